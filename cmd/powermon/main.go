package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/powermon/internal/analyzer"
	"codeberg.org/mutker/powermon/internal/config"
	"codeberg.org/mutker/powermon/internal/errors"
	"codeberg.org/mutker/powermon/internal/logger"
	"codeberg.org/mutker/powermon/internal/notify"
	"codeberg.org/mutker/powermon/internal/pid"
	"codeberg.org/mutker/powermon/internal/sampler"
	"codeberg.org/mutker/powermon/internal/store"
	"codeberg.org/mutker/powermon/internal/syncpause"
	"codeberg.org/mutker/powermon/internal/tracker"
)

const retentionPruneInterval = 24 * time.Hour

var (
	cfg     *config.Config
	metrics *store.Store
)

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	storeCfg := store.DefaultConfig()
	if cfg.Database != "" {
		storeCfg.DBPath = cfg.Database
	}

	metrics, err = store.New(storeCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open metrics store")
	}
}

func main() {
	if err := pid.Write(); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) && coded.Code() == errors.ErrAlreadyRunning {
			logger.ErrorWithCode(coded).Msg("another powermon instance is running")
			os.Exit(1)
		}
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	smp := sampler.New(cfg, metrics)
	az := analyzer.New(cfg, metrics)

	var notifier notify.Notifier = notify.NewLogNotifier(cfg.NotificationCooldown)
	var syncGuard *syncNotifier
	if cfg.SyncthingAPIKey != "" {
		syncGuard = &syncNotifier{
			Notifier: notifier,
			client:   syncpause.New(cfg.SyncthingURL, cfg.SyncthingAPIKey),
		}
		notifier = syncGuard
	}

	trk := tracker.New(cfg, az, metrics, notifier)

	if cfg.AutoStart {
		smp.Start()
	}

	if err := loop(ctx, smp, trk); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}
	cleanup(smp, syncGuard)
}

func loop(ctx context.Context, smp *sampler.Sampler, trk *tracker.Tracker) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("invalid interval: %d", cfg.Interval)
	}

	interval := time.Duration(cfg.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(retentionPruneInterval)
	defer pruneTicker.Stop()

	pruneHistory()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			trk.Observe(time.Now(), smp.CachedStats(sampler.DefaultCacheMaxAge))
		case <-pruneTicker.C:
			pruneHistory()
		}
	}
}

func pruneHistory() {
	deleted, err := metrics.PruneOlderThan(cfg.RetentionDays)
	if err != nil {
		logger.Error().Err(err).Msg("retention prune failed")
	} else if deleted > 0 {
		logger.Info().
			Int64("deleted", deleted).
			Int("retention_days", cfg.RetentionDays).
			Msg("Retention prune removed records")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(smp *sampler.Sampler, syncGuard *syncNotifier) {
	if smp.Running() {
		smp.Stop()
	}
	if syncGuard != nil {
		syncGuard.restore()
	}
	if err := metrics.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close metrics store")
	}
	if err := pid.Remove(); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}

// syncNotifier pauses Syncthing once the battery goes critical, so sync
// traffic stops draining what charge is left. The pause is undone on
// shutdown; Syncthing treats repeated pause and resume calls as no-ops.
type syncNotifier struct {
	notify.Notifier
	client *syncpause.Client

	mu     sync.Mutex
	paused bool
}

func (n *syncNotifier) CriticalBattery(percent float64) {
	n.Notifier.CriticalBattery(percent)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.paused {
		return
	}

	if err := n.client.Pause(); err != nil {
		logger.Error().Err(err).Msg("failed to pause Syncthing")
		return
	}
	n.paused = true
}

func (n *syncNotifier) restore() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.paused {
		return
	}

	if err := n.client.Resume(); err != nil {
		logger.Error().Err(err).Msg("failed to resume Syncthing")
		return
	}
	n.paused = false
}
