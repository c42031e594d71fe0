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

	_ "github.com/lib/pq" // postgres driver
)

// PostgresStore implements Store on PostgreSQL, relying on an explicit
// SERIALIZABLE transaction for every WithTx call instead of a
// single-connection cap.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := postgresCreateSchema(db); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Printf("[store] postgres pool ready: max=25 idle=10")
	return &PostgresStore{db: db}, nil
}

func postgresCreateSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS items (
		id BIGINT PRIMARY KEY,
		content_ref TEXT NOT NULL,
		claimed BOOLEAN NOT NULL DEFAULT FALSE,
		session_ref TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_items_session_ref ON items(session_ref);
	CREATE INDEX IF NOT EXISTS idx_items_unclaimed ON items(claimed, session_ref);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		quantity INTEGER NOT NULL,
		amount_due BIGINT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		txid TEXT,
		assigned_refs TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`)
	return err
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *PostgresStore) Progress(ctx context.Context, maxSupply int64) (ProgressStats, error) {
	var minted, reserved int
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN claimed THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN NOT claimed AND session_ref IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM items WHERE id <= $1`, maxSupply)
	if err := row.Scan(&minted, &reserved); err != nil {
		return ProgressStats{}, fmt.Errorf("progress: %w", err)
	}
	total := int(maxSupply)
	return ProgressStats{Total: total, Minted: minted, Reserved: reserved, Available: total - minted - reserved}, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, postgresSessionSelect+" WHERE session_id = $1", sessionID))
}

func (s *PostgresStore) LoadPendingIndex(ctx context.Context) (map[string]model.PendingEntry, error) {
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

func (s *PostgresStore) SessionsOlderThan(ctx context.Context, status model.Status, cutoff time.Time) ([]string, error) {
	column := "created_at"
	if status == model.StatusPaymentPending {
		column = "updated_at"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT session_id FROM sessions WHERE status = $1 AND %s < $2", column),
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

const postgresSessionSelect = `
	SELECT session_id, quantity, amount_due, status, txid, assigned_refs, created_at, updated_at
	FROM sessions`

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) CountAvailable(ctx context.Context, maxSupply int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items
		WHERE id <= $1 AND NOT claimed AND session_ref IS NULL`, maxSupply).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available: %w", err)
	}
	return n, nil
}

func (t *postgresTx) NextSessionSequence(ctx context.Context) (int64, error) {
	var value int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('session_seq', '1')
		ON CONFLICT (key) DO UPDATE SET value = (CAST(settings.value AS BIGINT) + 1)::text
		RETURNING CAST(value AS BIGINT)`).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("bump session_seq: %w", err)
	}
	return value, nil
}

func (t *postgresTx) InsertSession(ctx context.Context, s *model.Session) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, quantity, amount_due, status, txid, assigned_refs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
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

func (t *postgresTx) ReserveRandomItems(ctx context.Context, sessionID string, quantity int, maxSupply int64) (int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id FROM items
		WHERE id <= $1 AND NOT claimed AND session_ref IS NULL
		ORDER BY RANDOM() LIMIT $2
		FOR UPDATE SKIP LOCKED`, maxSupply, quantity)
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
			UPDATE items SET session_ref = $1
			WHERE id = $2 AND NOT claimed AND session_ref IS NULL`, sessionID, id)
		if err != nil {
			return 0, fmt.Errorf("reserve item %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, ErrReservationRace
		}
	}
	return len(ids), nil
}

func (t *postgresTx) ReservedUnclaimedItems(ctx context.Context, sessionID string, maxSupply int64) ([]model.Item, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, content_ref, claimed, session_ref FROM items
		WHERE session_ref = $1 AND NOT claimed AND id <= $2`, sessionID, maxSupply)
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

func (t *postgresTx) ClaimItems(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx, `UPDATE items SET claimed = TRUE WHERE id = $1`, id); err != nil {
			return fmt.Errorf("claim item %d: %w", id, err)
		}
	}
	return nil
}

func (t *postgresTx) ReleaseReservation(ctx context.Context, sessionID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE items SET session_ref = NULL
		WHERE session_ref = $1 AND NOT claimed`, sessionID)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

func (t *postgresTx) GetSessionForUpdate(ctx context.Context, sessionID string) (*model.Session, error) {
	return scanSession(t.tx.QueryRowContext(ctx, postgresSessionSelect+" WHERE session_id = $1 FOR UPDATE", sessionID))
}

func (t *postgresTx) UpdateSession(ctx context.Context, s *model.Session) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET status = $1, txid = $2, assigned_refs = $3, updated_at = $4
		WHERE session_id = $5`,
		string(s.Status), nullableString(s.TxID), strings.Join(s.AssignedRefs, ","), s.UpdatedAt, s.SessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (t *postgresTx) GetCursor(ctx context.Context, name string) (int64, bool, error) {
	var value string
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, cursorKey(name)).Scan(&value)
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

func (t *postgresTx) SetCursor(ctx context.Context, name string, height int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, cursorKey(name), fmt.Sprintf("%d", height))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
