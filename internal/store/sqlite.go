package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"dropmint/internal/model"
	"dropmint/pkg/money"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO required
)

// SQLiteStore implements Store on top of a single SQLite file. SQLite
// only supports one writer at a time, so every transaction runs
// against a pool capped at one connection; serializability falls out
// of that cap rather than an explicit isolation level.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dbPath in WAL mode and ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // sqlite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := sqliteCreateSchema(db); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Printf("[store] sqlite opened at %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

func sqliteCreateSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		content_ref TEXT NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0,
		session_ref TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_items_session_ref ON items(session_ref);
	CREATE INDEX IF NOT EXISTS idx_items_unclaimed ON items(claimed, session_ref);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		quantity INTEGER NOT NULL,
		amount_due INTEGER NOT NULL UNIQUE,
		status TEXT NOT NULL,
		txid TEXT,
		assigned_refs TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// WithTx runs fn inside a single transaction. With the pool capped at
// one connection, only one transaction is open at a time.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &sqliteTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *SQLiteStore) Progress(ctx context.Context, maxSupply int64) (ProgressStats, error) {
	var minted, reserved int
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN claimed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN claimed = 0 AND session_ref IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM items WHERE id <= ?`, maxSupply)
	if err := row.Scan(&minted, &reserved); err != nil {
		return ProgressStats{}, fmt.Errorf("progress: %w", err)
	}
	total := int(maxSupply)
	return ProgressStats{
		Total:     total,
		Minted:    minted,
		Reserved:  reserved,
		Available: total - minted - reserved,
	}, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, sessionSelectQuery+" WHERE session_id = ?", sessionID))
}

func (s *SQLiteStore) LoadPendingIndex(ctx context.Context) (map[string]model.PendingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, quantity, amount_due FROM sessions
		WHERE status IN ('pending', 'payment_pending')`)
	if err != nil {
		return nil, fmt.Errorf("load pending index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]model.PendingEntry)
	for rows.Next() {
		var sessionID string
		var quantity int
		var units int64
		if err := rows.Scan(&sessionID, &quantity, &units); err != nil {
			return nil, fmt.Errorf("scan pending index row: %w", err)
		}
		amt := money.FromUnits(units)
		index[amt.String()] = model.PendingEntry{SessionID: sessionID, Quantity: quantity}
	}
	return index, rows.Err()
}

func (s *SQLiteStore) SessionsOlderThan(ctx context.Context, status model.Status, cutoff time.Time) ([]string, error) {
	column := "created_at"
	if status == model.StatusPaymentPending {
		column = "updated_at"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT session_id FROM sessions WHERE status = ? AND %s < ?", column),
		string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("sessions older than: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const sessionSelectQuery = `
	SELECT session_id, quantity, amount_due, status, txid, assigned_refs, created_at, updated_at
	FROM sessions`

func scanSession(row *sql.Row) (*model.Session, error) {
	var s model.Session
	var units int64
	var txid sql.NullString
	var refs string

	err := row.Scan(&s.SessionID, &s.Quantity, &units, &s.Status, &txid, &refs, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.AmountDue = money.FromUnits(units)
	if txid.Valid {
		s.TxID = &txid.String
	}
	if refs != "" {
		s.AssignedRefs = strings.Split(refs, ",")
	}
	return &s, nil
}

// sqliteTx implements Tx against a single in-flight *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) CountAvailable(ctx context.Context, maxSupply int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items
		WHERE id <= ? AND claimed = 0 AND session_ref IS NULL`, maxSupply).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) NextSessionSequence(ctx context.Context) (int64, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('session_seq', '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1`)
	if err != nil {
		return 0, fmt.Errorf("bump session_seq: %w", err)
	}

	var value int64
	if err := t.tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'session_seq'`).Scan(&value); err != nil {
		return 0, fmt.Errorf("read session_seq: %w", err)
	}
	return value, nil
}

func (t *sqliteTx) InsertSession(ctx context.Context, s *model.Session) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, quantity, amount_due, status, txid, assigned_refs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.Quantity, s.AmountDue.Units(), string(s.Status), nullableString(s.TxID),
		strings.Join(s.AssignedRefs, ","), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAmountCollision
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (t *sqliteTx) ReserveRandomItems(ctx context.Context, sessionID string, quantity int, maxSupply int64) (int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id FROM items
		WHERE id <= ? AND claimed = 0 AND session_ref IS NULL
		ORDER BY RANDOM() LIMIT ?`, maxSupply, quantity)
	if err != nil {
		return 0, fmt.Errorf("select candidates: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		res, err := t.tx.ExecContext(ctx, `
			UPDATE items SET session_ref = ?
			WHERE id = ? AND claimed = 0 AND session_ref IS NULL`, sessionID, id)
		if err != nil {
			return 0, fmt.Errorf("reserve item %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, ErrReservationRace
		}
	}
	return len(ids), nil
}

func (t *sqliteTx) ReservedUnclaimedItems(ctx context.Context, sessionID string, maxSupply int64) ([]model.Item, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, content_ref, claimed, session_ref FROM items
		WHERE session_ref = ? AND claimed = 0 AND id <= ?`, sessionID, maxSupply)
	if err != nil {
		return nil, fmt.Errorf("reserved unclaimed items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		var ref sql.NullString
		if err := rows.Scan(&it.ID, &it.ContentRef, &it.Claimed, &ref); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if ref.Valid {
			it.SessionRef = &ref.String
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *sqliteTx) ClaimItems(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx, `UPDATE items SET claimed = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("claim item %d: %w", id, err)
		}
	}
	return nil
}

func (t *sqliteTx) ReleaseReservation(ctx context.Context, sessionID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE items SET session_ref = NULL
		WHERE session_ref = ? AND claimed = 0`, sessionID)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetSessionForUpdate(ctx context.Context, sessionID string) (*model.Session, error) {
	return scanSession(t.tx.QueryRowContext(ctx, sessionSelectQuery+" WHERE session_id = ?", sessionID))
}

func (t *sqliteTx) UpdateSession(ctx context.Context, s *model.Session) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, txid = ?, assigned_refs = ?, updated_at = ?
		WHERE session_id = ?`,
		string(s.Status), nullableString(s.TxID), strings.Join(s.AssignedRefs, ","), s.UpdatedAt, s.SessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetCursor(ctx context.Context, name string) (int64, bool, error) {
	var value string
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, cursorKey(name)).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	var height int64
	if _, err := fmt.Sscanf(value, "%d", &height); err != nil {
		return 0, false, fmt.Errorf("parse cursor %s: %w", name, err)
	}
	return height, true, nil
}

func (t *sqliteTx) SetCursor(ctx context.Context, name string, height int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, cursorKey(name), fmt.Sprintf("%d", height))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func cursorKey(name string) string { return "cursor:" + name }

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// isUniqueViolation matches the unique-constraint error text across
// the three supported drivers, none of which expose a typed error for
// it through database/sql.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique constraint") || // postgres
		strings.Contains(msg, "Duplicate entry") // mysql
}
