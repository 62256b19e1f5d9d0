package store

import (
	"database/sql"

	"codeberg.org/mutker/powermon/internal/errors"
	"codeberg.org/mutker/powermon/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
    CREATE TABLE IF NOT EXISTS schema_versions (
        version     INTEGER PRIMARY KEY,
        applied_at  TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS samples (
        id                  INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp           INTEGER NOT NULL,
        battery_percent     REAL,
        power_plugged       INTEGER,
        power_draw_estimate REAL NOT NULL DEFAULT 0,
        cpu_percent         REAL NOT NULL,
        memory_percent      REAL NOT NULL,
        disk_read_mb        REAL NOT NULL,
        disk_write_mb       REAL NOT NULL,
        network_sent_mb     REAL NOT NULL,
        network_recv_mb     REAL NOT NULL,
        top_process_name    TEXT,
        top_process_cpu     REAL
    );
    CREATE INDEX IF NOT EXISTS idx_samples_timestamp ON samples(timestamp);
    CREATE TABLE IF NOT EXISTS events (
        id                 INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp          INTEGER NOT NULL,
        duration_seconds   INTEGER NOT NULL,
        primary_cause      TEXT NOT NULL,
        processes_involved TEXT,
        avg_power_draw     REAL NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);`

	insertSampleSQL = `
    INSERT INTO samples (
        timestamp, battery_percent, power_plugged, power_draw_estimate,
        cpu_percent, memory_percent, disk_read_mb, disk_write_mb,
        network_sent_mb, network_recv_mb, top_process_name, top_process_cpu
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertEventSQL = `
    INSERT INTO events (
        timestamp, duration_seconds, primary_cause,
        processes_involved, avg_power_draw
    ) VALUES (?, ?, ?, ?, ?)`

	selectSampleColumns = `
        timestamp, battery_percent, power_plugged, power_draw_estimate,
        cpu_percent, memory_percent, disk_read_mb, disk_write_mb,
        network_sent_mb, network_recv_mb, top_process_name, top_process_cpu`
)

// initSchema creates the tables and records the schema version on first run.
func initSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(`
        INSERT OR IGNORE INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Debug().Int("version", SchemaVersion).Msg("Schema initialized")

	return nil
}
