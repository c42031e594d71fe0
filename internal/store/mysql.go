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

	_ "github.com/go-sql-driver/mysql" // mysql driver
)

// MySQLStore implements Store on MySQL/MariaDB. Every WithTx call
// requests serializable isolation through sql.TxOptions.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	if err := mysqlCreateSchema(db); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Printf("[store] mysql pool ready: max=25 idle=10")
	return &MySQLStore{db: db}, nil
}

func mysqlCreateSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id BIGINT PRIMARY KEY,
			content_ref VARCHAR(255) NOT NULL,
			claimed TINYINT NOT NULL DEFAULT 0,
			session_ref VARCHAR(64),
			INDEX idx_items_session_ref (session_ref),
			INDEX idx_items_unclaimed (claimed, session_ref)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id VARCHAR(64) PRIMARY KEY,
			quantity INT NOT NULL,
			amount_due BIGINT NOT NULL UNIQUE,
			status VARCHAR(32) NOT NULL,
			txid VARCHAR(128),
			assigned_refs TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			INDEX idx_sessions_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			setting_key VARCHAR(64) PRIMARY KEY,
			value VARCHAR(255) NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *MySQLStore) Progress(ctx context.Context, maxSupply int64) (ProgressStats, error) {
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
	return ProgressStats{Total: total, Minted: minted, Reserved: reserved, Available: total - minted - reserved}, nil
}

func (s *MySQLStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, mysqlSessionSelect+" WHERE session_id = ?", sessionID))
}

func (s *MySQLStore) LoadPendingIndex(ctx context.Context) (map[string]model.PendingEntry, error) {
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

func (s *MySQLStore) SessionsOlderThan(ctx context.Context, status model.Status, cutoff time.Time) ([]string, error) {
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

const mysqlSessionSelect = `
	SELECT session_id, quantity, amount_due, status, txid, assigned_refs, created_at, updated_at
	FROM sessions`

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) CountAvailable(ctx context.Context, maxSupply int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items
		WHERE id <= ? AND claimed = 0 AND session_ref IS NULL`, maxSupply).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available: %w", err)
	}
	return n, nil
}

func (t *mysqlTx) NextSessionSequence(ctx context.Context) (int64, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settings (setting_key, value) VALUES ('session_seq', '1')
		ON DUPLICATE KEY UPDATE value = CAST(value AS UNSIGNED) + 1`)
	if err != nil {
		return 0, fmt.Errorf("bump session_seq: %w", err)
	}

	var value int64
	if err := t.tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE setting_key = 'session_seq'`).Scan(&value); err != nil {
		return 0, fmt.Errorf("read session_seq: %w", err)
	}
	return value, nil
}

func (t *mysqlTx) InsertSession(ctx context.Context, s *model.Session) error {
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

// ReserveRandomItems uses ORDER BY RAND(), acceptable at the drop sizes
// this runs against; a uniform sample over a huge table would need a
// different approach, but the collectible counts here are in the
// thousands, not millions.
func (t *mysqlTx) ReserveRandomItems(ctx context.Context, sessionID string, quantity int, maxSupply int64) (int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id FROM items
		WHERE id <= ? AND claimed = 0 AND session_ref IS NULL
		ORDER BY RAND() LIMIT ? FOR UPDATE`, maxSupply, quantity)
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

func (t *mysqlTx) ReservedUnclaimedItems(ctx context.Context, sessionID string, maxSupply int64) ([]model.Item, error) {
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

func (t *mysqlTx) ClaimItems(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx, `UPDATE items SET claimed = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("claim item %d: %w", id, err)
		}
	}
	return nil
}

func (t *mysqlTx) ReleaseReservation(ctx context.Context, sessionID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE items SET session_ref = NULL
		WHERE session_ref = ? AND claimed = 0`, sessionID)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

func (t *mysqlTx) GetSessionForUpdate(ctx context.Context, sessionID string) (*model.Session, error) {
	return scanSession(t.tx.QueryRowContext(ctx, mysqlSessionSelect+" WHERE session_id = ? FOR UPDATE", sessionID))
}

func (t *mysqlTx) UpdateSession(ctx context.Context, s *model.Session) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, txid = ?, assigned_refs = ?, updated_at = ?
		WHERE session_id = ?`,
		string(s.Status), nullableString(s.TxID), strings.Join(s.AssignedRefs, ","), s.UpdatedAt, s.SessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (t *mysqlTx) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (t *mysqlTx) GetCursor(ctx context.Context, name string) (int64, bool, error) {
	var value string
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE setting_key = ?`, cursorKey(name)).Scan(&value)
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

func (t *mysqlTx) SetCursor(ctx context.Context, name string, height int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settings (setting_key, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`, cursorKey(name), fmt.Sprintf("%d", height))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
