package storage

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS attack_log (
			log_id BIGSERIAL PRIMARY KEY,
			detected_at TIMESTAMPTZ NOT NULL,
			attack_type VARCHAR(50) NOT NULL,
			severity VARCHAR(20),
			source_address VARCHAR(100),
			hostname VARCHAR(100),
			user_id VARCHAR(50),
			processed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attack_log_unprocessed ON attack_log(processed) WHERE processed = FALSE`,
		`CREATE TABLE IF NOT EXISTS attack_traffic (
			traffic_id BIGSERIAL PRIMARY KEY,
			detected_at TIMESTAMPTZ NOT NULL,
			user_id TEXT,
			src_ip TEXT,
			dst_port INTEGER,
			protocol INTEGER,
			processed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attack_traffic_unprocessed ON attack_traffic(processed) WHERE processed = FALSE`,
		`CREATE TABLE IF NOT EXISTS alert_history (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(50) NOT NULL,
			attack_type VARCHAR(100) NOT NULL,
			last_sent_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, attack_type)
		)`,
	},
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	upsertCooldown: `INSERT INTO alert_history (user_id, attack_type, last_sent_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, attack_type) DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at`,
	returning: true,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/attackwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &baseStore{db: db, d: postgresDialect}, nil
}
