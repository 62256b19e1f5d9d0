package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/powermon/internal/errors"
	"codeberg.org/mutker/powermon/internal/logger"
)

const bytesPerMB = 1024 * 1024

// Store is the durable, append-only log of metric samples and high power
// events. Every operation is serialized by a single mutex; the write rate is
// one insert per sampling tick, so coarse locking costs nothing and keeps
// the read-modify-write sequences atomic.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

func New(cfg Config) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Store initialized")

	return &Store{db: db, path: cfg.DBPath}, nil
}

// InsertSample appends one sample row. Failures are returned to the caller,
// who logs and drops the tick; a failed insert never stops the loop.
func (s *Store) InsertSample(sample *MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()

	if sample == nil {
		return errFactory.New(errors.ErrInvalidArgument)
	}

	var plugged *int
	if sample.PowerPlugged != nil {
		v := boolToInt(*sample.PowerPlugged)
		plugged = &v
	}

	_, err := s.db.Exec(insertSampleSQL,
		sample.Timestamp,
		sample.BatteryPercent,
		plugged,
		sample.PowerDrawEstimate,
		sample.CPUPercent,
		sample.MemoryPercent,
		sample.DiskReadMB,
		sample.DiskWriteMB,
		sample.NetworkSentMB,
		sample.NetworkRecvMB,
		sample.TopProcessName,
		sample.TopProcessCPU,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

// InsertEvent appends one high power event row.
func (s *Store) InsertEvent(event *HighPowerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()

	if event == nil {
		return errFactory.New(errors.ErrInvalidArgument)
	}

	_, err := s.db.Exec(insertEventSQL,
		event.Timestamp,
		event.DurationSeconds,
		event.PrimaryCause,
		event.ProcessesInvolved,
		event.AvgPowerDraw,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

// QueryRange returns samples from the last N hours, ascending by timestamp.
// An empty window yields an empty slice, not an error.
func (s *Store) QueryRange(hours int) ([]MetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now().Unix() - int64(hours)*3600

	rows, err := s.db.Query(`
        SELECT `+selectSampleColumns+`
        FROM samples
        WHERE timestamp >= ?
        ORDER BY timestamp ASC
    `, start)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// Latest returns the most recent samples, newest first, at most count rows.
func (s *Store) Latest(count int) ([]MetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
        SELECT `+selectSampleColumns+`
        FROM samples
        ORDER BY timestamp DESC
        LIMIT ?
    `, count)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// RollingAverage returns the mean power draw estimate over the trailing
// window, or nil when no samples qualify. Nil distinguishes "no data" from
// an actual zero draw.
func (s *Store) RollingAverage(minutes int) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now().Unix() - int64(minutes)*60

	var avg sql.NullFloat64
	err := s.db.QueryRow(`
        SELECT AVG(power_draw_estimate)
        FROM samples
        WHERE timestamp >= ?
    `, start).Scan(&avg)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}

	if !avg.Valid {
		return nil, nil
	}

	return &avg.Float64, nil
}

// EventsInRange returns high power events from the last N hours, most
// recent first.
func (s *Store) EventsInRange(hours int) ([]HighPowerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now().Unix() - int64(hours)*3600

	rows, err := s.db.Query(`
        SELECT timestamp, duration_seconds, primary_cause,
               processes_involved, avg_power_draw
        FROM events
        WHERE timestamp >= ?
        ORDER BY timestamp DESC
    `, start)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var events []HighPowerEvent
	for rows.Next() {
		var (
			e         HighPowerEvent
			processes sql.NullString
		)
		if err := rows.Scan(&e.Timestamp, &e.DurationSeconds, &e.PrimaryCause,
			&processes, &e.AvgPowerDraw); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		e.ProcessesInvolved = processes.String
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}

	return events, nil
}

// PruneOlderThan deletes all samples and events older than the cutoff and
// reclaims the freed pages. Returns the total rows removed; calling it again
// with the same retention deletes nothing.
func (s *Store) PruneOlderThan(days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Unix() - int64(days)*86400

	deleted, err := s.deleteBefore(cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		if _, err := s.db.Exec("VACUUM"); err != nil {
			logger.Warn().Err(err).Msg("Vacuum after prune failed")
		}
	}

	return deleted, nil
}

// PruneToSize checks the database file against the size budget and, when
// over it, drops the oldest quarter of the samples (and any events that old)
// before vacuuming. A different trigger from the day-based retention: this
// one runs every N sampling ticks.
func (s *Store) PruneToSize(maxSizeMB int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := s.fileSizeMB()
	if err != nil {
		return 0, err
	}
	if size <= float64(maxSizeMB) {
		return 0, nil
	}

	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&count); err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	if count == 0 {
		return 0, nil
	}

	drop := count / 4
	if drop == 0 {
		drop = count
	}

	var cutoff int64
	err = s.db.QueryRow(`
        SELECT timestamp FROM samples
        ORDER BY timestamp ASC
        LIMIT 1 OFFSET ?
    `, drop-1).Scan(&cutoff)
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	deleted, err := s.deleteBefore(cutoff + 1)
	if err != nil {
		return 0, err
	}

	if _, err := s.db.Exec("VACUUM"); err != nil {
		logger.Warn().Err(err).Msg("Vacuum after size prune failed")
	}

	logger.Info().
		Float64("size_mb", size).
		Int("budget_mb", maxSizeMB).
		Int64("deleted", deleted).
		Msg("Size-based prune completed")

	return deleted, nil
}

// Stats reports row counts, the covered time range, and the on-disk size.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()
	var stats Stats

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&stats.SampleCount); err != nil {
		return Stats{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&stats.EventCount); err != nil {
		return Stats{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	var oldest, newest sql.NullInt64
	err := s.db.QueryRow(`SELECT MIN(timestamp), MAX(timestamp) FROM samples`).Scan(&oldest, &newest)
	if err != nil {
		return Stats{}, errFactory.Wrap(ErrStorageAccess, err)
	}
	if oldest.Valid {
		stats.OldestTimestamp = &oldest.Int64
	}
	if newest.Valid {
		stats.NewestTimestamp = &newest.Int64
	}

	size, err := s.fileSizeMB()
	if err != nil {
		return Stats{}, err
	}
	stats.StorageSizeMB = size

	return stats, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Debug().Err(err).Msg("WAL checkpoint on close failed")
	}

	if err := s.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	return nil
}

// deleteBefore removes rows with timestamp < cutoff from both tables.
// Callers hold the mutex.
func (s *Store) deleteBefore(cutoff int64) (int64, error) {
	errFactory := errors.New()

	samplesRes, err := s.db.Exec(`DELETE FROM samples WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}
	samplesDeleted, _ := samplesRes.RowsAffected()

	eventsRes, err := s.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return samplesDeleted, errFactory.Wrap(ErrStorageAccess, err)
	}
	eventsDeleted, _ := eventsRes.RowsAffected()

	return samplesDeleted + eventsDeleted, nil
}

func (s *Store) fileSizeMB() (float64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	return float64(info.Size()) / bytesPerMB, nil
}

func scanSamples(rows *sql.Rows) ([]MetricSample, error) {
	var samples []MetricSample

	for rows.Next() {
		var (
			m       MetricSample
			battery sql.NullFloat64
			plugged sql.NullInt64
			name    sql.NullString
			cpu     sql.NullFloat64
		)

		if err := rows.Scan(&m.Timestamp, &battery, &plugged, &m.PowerDrawEstimate,
			&m.CPUPercent, &m.MemoryPercent, &m.DiskReadMB, &m.DiskWriteMB,
			&m.NetworkSentMB, &m.NetworkRecvMB, &name, &cpu); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}

		if battery.Valid {
			m.BatteryPercent = &battery.Float64
		}
		if plugged.Valid {
			v := plugged.Int64 != 0
			m.PowerPlugged = &v
		}
		if name.Valid {
			m.TopProcessName = &name.String
		}
		if cpu.Valid {
			m.TopProcessCPU = &cpu.Float64
		}

		samples = append(samples, m)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}

	return samples, nil
}
