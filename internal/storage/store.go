package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"attackwatch/internal/config"
	"attackwatch/internal/model"
)

// Store is the record store the watcher reads detections from and writes
// bookkeeping to. All cycle mutations go through a Tx.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Begin(ctx context.Context) (Tx, error)
	InsertLogDetection(ctx context.Context, d model.LogDetection) (int64, error)
	InsertTrafficDetection(ctx context.Context, d model.TrafficDetection) (int64, error)
	CountUnprocessed(ctx context.Context) (map[model.Kind]int, error)
}

// Tx stages reads and writes for one cycle. Nothing is visible to other
// readers until Commit.
type Tx interface {
	FetchUnprocessed(ctx context.Context, kind model.Kind) ([]model.Record, error)
	MarkProcessed(ctx context.Context, kind model.Kind, ids []int64) error
	LastNotified(ctx context.Context, key model.GroupKey) (time.Time, bool, error)
	UpsertCooldown(ctx context.Context, key model.GroupKey, at time.Time) error
	Commit() error
	Rollback() error
}

// StoreError wraps a failed operation against the record store.
type StoreError struct {
	Op   string
	Kind model.Kind
	Err  error
}

func (e *StoreError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("store %s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, kind model.Kind, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// maxIDsPerStatement bounds the IN list of a single mark statement.
const maxIDsPerStatement = 1000

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql", "pgx":
		return NewPostgres(cfg.DSN)
	case "mysql":
		return NewMySQL(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// dialect holds the SQL that differs between drivers.
type dialect struct {
	name           string
	schema         []string
	placeholder    func(n int) string
	upsertCooldown string
	// returning is set when inserts report the new id with RETURNING.
	returning bool
}

type tableSpec struct {
	name  string
	idCol string
}

var tables = map[model.Kind]tableSpec{
	model.KindLog:     {name: "attack_log", idCol: "log_id"},
	model.KindTraffic: {name: "attack_traffic", idCol: "traffic_id"},
}

type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	for _, stmt := range b.d.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return storeErr("init "+b.d.name, "", err)
		}
	}
	return nil
}

// bind rewrites '?' markers to the dialect's placeholder syntax.
func (b *baseStore) bind(query string) string {
	if b.d.placeholder == nil {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString(b.d.placeholder(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin", "", err)
	}
	return &sqlTx{tx: tx, store: b}, nil
}

func (b *baseStore) insertReturningID(ctx context.Context, kind model.Kind, query string, args ...any) (int64, error) {
	t := tables[kind]
	if b.d.returning {
		var id int64
		row := b.db.QueryRowContext(ctx, b.bind(query+" RETURNING "+t.idCol), args...)
		if err := row.Scan(&id); err != nil {
			return 0, storeErr("insert", kind, err)
		}
		return id, nil
	}
	res, err := b.db.ExecContext(ctx, b.bind(query), args...)
	if err != nil {
		return 0, storeErr("insert", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert", kind, err)
	}
	return id, nil
}

func (b *baseStore) InsertLogDetection(ctx context.Context, d model.LogDetection) (int64, error) {
	if d.DetectedAt.IsZero() {
		d.DetectedAt = nowUTC()
	}
	return b.insertReturningID(ctx, model.KindLog,
		`INSERT INTO attack_log (detected_at, attack_type, severity, source_address, hostname, user_id, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.DetectedAt.UTC(),
		d.AttackType,
		d.Severity,
		d.SourceAddress,
		d.Hostname,
		nullString(d.UserID),
		d.Processed,
	)
}

func (b *baseStore) InsertTrafficDetection(ctx context.Context, d model.TrafficDetection) (int64, error) {
	if d.DetectedAt.IsZero() {
		d.DetectedAt = nowUTC()
	}
	return b.insertReturningID(ctx, model.KindTraffic,
		`INSERT INTO attack_traffic (detected_at, user_id, src_ip, dst_port, protocol, processed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.DetectedAt.UTC(),
		nullString(d.UserID),
		d.SrcIP,
		d.DstPort,
		d.Protocol,
		d.Processed,
	)
}

func (b *baseStore) CountUnprocessed(ctx context.Context) (map[model.Kind]int, error) {
	out := make(map[model.Kind]int, len(model.Kinds))
	for _, kind := range model.Kinds {
		var n int
		row := b.db.QueryRowContext(ctx, b.bind(`SELECT COUNT(*) FROM `+tables[kind].name+` WHERE processed = ?`), false)
		if err := row.Scan(&n); err != nil {
			return nil, storeErr("count", kind, err)
		}
		out[kind] = n
	}
	return out, nil
}

type sqlTx struct {
	tx    *sql.Tx
	store *baseStore
}

func (t *sqlTx) FetchUnprocessed(ctx context.Context, kind model.Kind) ([]model.Record, error) {
	switch kind {
	case model.KindLog:
		return t.fetchLog(ctx)
	case model.KindTraffic:
		return t.fetchTraffic(ctx)
	default:
		return nil, storeErr("fetch", kind, errors.New("unknown record kind"))
	}
}

func (t *sqlTx) fetchLog(ctx context.Context) ([]model.Record, error) {
	rows, err := t.tx.QueryContext(ctx, t.store.bind(
		`SELECT log_id, detected_at, attack_type, severity, source_address, hostname, user_id
		FROM attack_log WHERE processed = ? ORDER BY log_id`), false)
	if err != nil {
		return nil, storeErr("fetch", model.KindLog, err)
	}
	defer rows.Close()
	out := []model.Record{}
	for rows.Next() {
		var d model.LogDetection
		var severity, source, host, user sql.NullString
		if err := rows.Scan(&d.LogID, &d.DetectedAt, &d.AttackType, &severity, &source, &host, &user); err != nil {
			return nil, storeErr("fetch", model.KindLog, err)
		}
		d.Severity = severity.String
		d.SourceAddress = source.String
		d.Hostname = host.String
		d.UserID = user.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("fetch", model.KindLog, err)
	}
	return out, nil
}

func (t *sqlTx) fetchTraffic(ctx context.Context) ([]model.Record, error) {
	rows, err := t.tx.QueryContext(ctx, t.store.bind(
		`SELECT traffic_id, detected_at, user_id, src_ip, dst_port, protocol
		FROM attack_traffic WHERE processed = ? ORDER BY traffic_id`), false)
	if err != nil {
		return nil, storeErr("fetch", model.KindTraffic, err)
	}
	defer rows.Close()
	out := []model.Record{}
	for rows.Next() {
		var d model.TrafficDetection
		var user, src sql.NullString
		var port, proto sql.NullInt64
		if err := rows.Scan(&d.TrafficID, &d.DetectedAt, &user, &src, &port, &proto); err != nil {
			return nil, storeErr("fetch", model.KindTraffic, err)
		}
		d.UserID = user.String
		d.SrcIP = src.String
		d.DstPort = int(port.Int64)
		d.Protocol = int(proto.Int64)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("fetch", model.KindTraffic, err)
	}
	return out, nil
}

func (t *sqlTx) MarkProcessed(ctx context.Context, kind model.Kind, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tbl, ok := tables[kind]
	if !ok {
		return storeErr("mark", kind, errors.New("unknown record kind"))
	}
	for start := 0; start < len(ids); start += maxIDsPerStatement {
		end := min(start+maxIDsPerStatement, len(ids))
		chunk := ids[start:end]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, true)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := `UPDATE ` + tbl.name + ` SET processed = ? WHERE ` + tbl.idCol +
			` IN (?` + strings.Repeat(", ?", len(chunk)-1) + `)`
		if _, err := t.tx.ExecContext(ctx, t.store.bind(query), args...); err != nil {
			return storeErr("mark", kind, err)
		}
	}
	return nil
}

func (t *sqlTx) LastNotified(ctx context.Context, key model.GroupKey) (time.Time, bool, error) {
	row := t.tx.QueryRowContext(ctx, t.store.bind(
		`SELECT last_sent_at FROM alert_history WHERE user_id = ? AND attack_type = ?`),
		key.ActorID, key.Category)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, storeErr("cooldown lookup", "", err)
	}
	return ts.UTC(), true, nil
}

func (t *sqlTx) UpsertCooldown(ctx context.Context, key model.GroupKey, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.store.bind(t.store.d.upsertCooldown), key.ActorID, key.Category, at.UTC())
	return storeErr("cooldown upsert", "", err)
}

func (t *sqlTx) Commit() error {
	return storeErr("commit", "", t.tx.Commit())
}

func (t *sqlTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return storeErr("rollback", "", err)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
