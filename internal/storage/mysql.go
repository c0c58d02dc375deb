package storage

import (
	"database/sql"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS attack_log (
			log_id BIGINT AUTO_INCREMENT PRIMARY KEY,
			detected_at DATETIME(6) NOT NULL,
			attack_type VARCHAR(50) NOT NULL,
			severity VARCHAR(20),
			source_address VARCHAR(100),
			hostname VARCHAR(100),
			user_id VARCHAR(50),
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			INDEX idx_attack_log_processed (processed)
		)`,
		`CREATE TABLE IF NOT EXISTS attack_traffic (
			traffic_id BIGINT AUTO_INCREMENT PRIMARY KEY,
			detected_at DATETIME(6) NOT NULL,
			user_id VARCHAR(50),
			src_ip VARCHAR(64),
			dst_port INT,
			protocol INT,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			INDEX idx_attack_traffic_processed (processed)
		)`,
		`CREATE TABLE IF NOT EXISTS alert_history (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(50) NOT NULL,
			attack_type VARCHAR(100) NOT NULL,
			last_sent_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_alert_history_key (user_id, attack_type)
		)`,
	},
	upsertCooldown: `INSERT INTO alert_history (user_id, attack_type, last_sent_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE last_sent_at = VALUES(last_sent_at)`,
}

// NewMySQL opens a MySQL store. The DSN must set parseTime=true so
// DATETIME columns scan into time.Time.
func NewMySQL(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "attackwatch:attackwatch@tcp(localhost:3306)/attackwatch?parseTime=true&loc=UTC"
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return &baseStore{db: db, d: mysqlDialect}, nil
}
