package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownPerKind(t *testing.T) {
	n := NewLogNotifier(15)

	assert.True(t, n.shouldSend(KindLowBattery), "Expected first notification to pass")
	assert.False(t, n.shouldSend(KindLowBattery), "Expected repeat inside cooldown to be dropped")

	// Other kinds have independent cooldowns
	assert.True(t, n.shouldSend(KindCriticalBattery))
	assert.True(t, n.shouldSend(KindHighPowerDraw))
}

func TestCooldownExpiry(t *testing.T) {
	n := NewLogNotifier(15)

	assert.True(t, n.shouldSend(KindHighPowerDraw))

	// Backdate the last send past the cooldown window
	n.mu.Lock()
	n.lastSent[KindHighPowerDraw] = time.Now().Add(-16 * time.Minute)
	n.mu.Unlock()

	assert.True(t, n.shouldSend(KindHighPowerDraw), "Expected notification after cooldown expiry")
}
