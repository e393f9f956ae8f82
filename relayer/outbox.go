package relayer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blockberries/relay/types"

	_ "modernc.org/sqlite"
)

// Kind is the message a delivery carries.
type Kind string

const (
	KindExecute  Kind = "execute"
	KindFallback Kind = "fallback"
)

// Status is the delivery state in the outbox.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Delivery is one message the relayer owes a chain. (CallID, Kind) is
// unique: a call is executed once and falls back at most once.
type Delivery struct {
	ID        string
	CallID    types.CallID
	Kind      Kind
	Source    types.ChainID
	Dest      types.ChainID
	Body      []byte
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outbox is the relayer's durable delivery queue and record cursor,
// kept in sqlite.
type Outbox struct {
	db *sql.DB
}

// OpenOutbox opens (or creates) the sqlite outbox at path.
func OpenOutbox(ctx context.Context, path string) (*Outbox, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	// One writer; also keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	o, err := NewOutbox(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return o, nil
}

// NewOutbox wraps an open database and creates the tables it needs.
func NewOutbox(ctx context.Context, db *sql.DB) (*Outbox, error) {
	o := &Outbox{db: db}
	if err := o.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to init outbox: %w", err)
	}
	return o, nil
}

func (o *Outbox) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		call_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		source_chain TEXT NOT NULL,
		dest_chain TEXT NOT NULL,
		body BLOB,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (call_id, kind)
	);
	CREATE INDEX IF NOT EXISTS deliveries_due ON deliveries (dest_chain, status, updated_at);
	CREATE TABLE IF NOT EXISTS cursors (
		chain TEXT PRIMARY KEY,
		height INTEGER NOT NULL
	);`
	_, err := o.db.ExecContext(ctx, query)
	return err
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Enqueue adds d as pending. It reports false when the call already has
// a delivery of that kind, acknowledged or not.
func (o *Outbox) Enqueue(ctx context.Context, d Delivery, now time.Time) (bool, error) {
	query := `
		INSERT INTO deliveries (id, call_id, kind, source_chain, dest_chain, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_id, kind) DO NOTHING
	`
	res, err := o.db.ExecContext(ctx, query,
		uuid.NewString(), d.CallID.Hex(), string(d.Kind), string(d.Source), string(d.Dest), d.Body,
		string(StatusPending), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s %s: %w", d.Kind, d.CallID.Hex(), err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkDelivered acknowledges the (id, kind) delivery. An acknowledgement
// that arrives before the delivery was enqueued leaves a delivered
// placeholder, so the later Enqueue is a no-op.
func (o *Outbox) MarkDelivered(ctx context.Context, id types.CallID, kind Kind, now time.Time) (bool, error) {
	query := `
		INSERT INTO deliveries (id, call_id, kind, source_chain, dest_chain, status, created_at, updated_at)
		VALUES (?, ?, ?, '', '', ?, ?, ?)
		ON CONFLICT (call_id, kind) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
		WHERE deliveries.status != excluded.status
	`
	res, err := o.db.ExecContext(ctx, query,
		uuid.NewString(), id.Hex(), string(kind), string(StatusDelivered), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s %s delivered: %w", kind, id.Hex(), err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkSubmitted records an accepted submission of delivery id.
func (o *Outbox) MarkSubmitted(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE deliveries SET status = ?, attempts = attempts + 1, last_error = '', updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`
	_, err := o.db.ExecContext(ctx, query, string(StatusSubmitted), now.UnixNano(), id,
		string(StatusPending), string(StatusSubmitted))
	return err
}

// MarkFailed gives up on delivery id.
func (o *Outbox) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	query := `
		UPDATE deliveries SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`
	_, err := o.db.ExecContext(ctx, query, string(StatusFailed), reason, now.UnixNano(), id, string(StatusDelivered))
	return err
}

// Retry puts delivery id back in the pending queue, counting the
// attempt.
func (o *Outbox) Retry(ctx context.Context, id, reason string, now time.Time) error {
	query := `
		UPDATE deliveries SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`
	_, err := o.db.ExecContext(ctx, query, string(StatusPending), reason, now.UnixNano(), id,
		string(StatusPending), string(StatusSubmitted))
	return err
}

// Due lists the deliveries to dest that should be (re)submitted now:
// pending ones, and submitted ones unacknowledged for retryAfter.
func (o *Outbox) Due(ctx context.Context, dest types.ChainID, now time.Time, retryAfter time.Duration, limit int) ([]Delivery, error) {
	query := `
		SELECT id, call_id, kind, source_chain, dest_chain, body, status, attempts, last_error, created_at, updated_at
		FROM deliveries
		WHERE dest_chain = ? AND (status = ? OR (status = ? AND updated_at <= ?))
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`
	rows, err := o.db.QueryContext(ctx, query, string(dest), string(StatusPending), string(StatusSubmitted),
		now.Add(-retryAfter).UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

// Get returns the delivery of kind for call id.
func (o *Outbox) Get(ctx context.Context, id types.CallID, kind Kind) (Delivery, bool, error) {
	query := `
		SELECT id, call_id, kind, source_chain, dest_chain, body, status, attempts, last_error, created_at, updated_at
		FROM deliveries
		WHERE call_id = ? AND kind = ?
	`
	rows, err := o.db.QueryContext(ctx, query, id.Hex(), string(kind))
	if err != nil {
		return Delivery{}, false, err
	}
	ds, err := scanDeliveries(rows)
	if err != nil || len(ds) == 0 {
		return Delivery{}, false, err
	}
	return ds[0], true, nil
}

// Counts returns the number of deliveries per status.
func (o *Outbox) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// Cursor returns the last fully processed height of chain, 0 if none.
func (o *Outbox) Cursor(ctx context.Context, chain types.ChainID) (uint64, error) {
	var height int64
	err := o.db.QueryRowContext(ctx, `SELECT height FROM cursors WHERE chain = ?`, string(chain)).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(height), nil
}

// SetCursor advances the processed height of chain. It never moves
// the cursor backwards.
func (o *Outbox) SetCursor(ctx context.Context, chain types.ChainID, height uint64) error {
	query := `
		INSERT INTO cursors (chain, height) VALUES (?, ?)
		ON CONFLICT (chain) DO UPDATE SET height = excluded.height
		WHERE excluded.height > cursors.height
	`
	_, err := o.db.ExecContext(ctx, query, string(chain), int64(height))
	return err
}

func scanDeliveries(rows *sql.Rows) ([]Delivery, error) {
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var out []Delivery
	for rows.Next() {
		var (
			d                    Delivery
			callID, kind, status string
			source, dest         string
			created, updated     int64
		)
		if err := rows.Scan(&d.ID, &callID, &kind, &source, &dest, &d.Body, &status,
			&d.Attempts, &d.LastError, &created, &updated); err != nil {
			return nil, err
		}
		d.CallID = types.HexToCallID(callID)
		d.Kind = Kind(kind)
		d.Source = types.ChainID(source)
		d.Dest = types.ChainID(dest)
		d.Status = Status(status)
		d.CreatedAt = time.Unix(0, created)
		d.UpdatedAt = time.Unix(0, updated)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
