package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS attack_log (
			log_id INTEGER PRIMARY KEY AUTOINCREMENT,
			detected_at DATETIME NOT NULL,
			attack_type TEXT NOT NULL,
			severity TEXT,
			source_address TEXT,
			hostname TEXT,
			user_id TEXT,
			processed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attack_log_processed ON attack_log(processed)`,
		`CREATE TABLE IF NOT EXISTS attack_traffic (
			traffic_id INTEGER PRIMARY KEY AUTOINCREMENT,
			detected_at DATETIME NOT NULL,
			user_id TEXT,
			src_ip TEXT,
			dst_port INTEGER,
			protocol INTEGER,
			processed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attack_traffic_processed ON attack_traffic(processed)`,
		`CREATE TABLE IF NOT EXISTS alert_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			attack_type TEXT NOT NULL,
			last_sent_at DATETIME NOT NULL,
			UNIQUE (user_id, attack_type)
		)`,
	},
	upsertCooldown: `INSERT INTO alert_history (user_id, attack_type, last_sent_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, attack_type) DO UPDATE SET last_sent_at = excluded.last_sent_at`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:attackwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection keeps the cycle transaction
	// from deadlocking against ingest inserts on a second connection.
	db.SetMaxOpenConns(1)
	return &baseStore{db: db, d: sqliteDialect}, nil
}
