package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/reception-ledger/offline"
)

// =============================================================================
// OFFLINE JOURNAL (offline.Journal interface)
// =============================================================================

var _ offline.Journal = (*Store)(nil)

// Append stores e as pending. Seq comes from the table's autoincrement.
func (s *Store) Append(ctx context.Context, e offline.Entry) (offline.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actorJSON, err := json.Marshal(e.Actor)
	if err != nil {
		return offline.Entry{}, fmt.Errorf("encode actor: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_queue (id, domain, op, payload_json, actor_json, enqueued_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Domain, e.Op, string(e.Payload), string(actorJSON),
		e.EnqueuedAt.UTC().Format(time.RFC3339Nano), offline.StatusPending,
	)
	if err != nil {
		return offline.Entry{}, fmt.Errorf("failed to append journal entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return offline.Entry{}, fmt.Errorf("failed to read journal seq: %w", err)
	}
	e.Seq = seq
	e.Status = offline.StatusPending
	return e, nil
}

// Pending returns pending entries oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]offline.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT seq, id, domain, op, payload_json, actor_json, enqueued_at, attempts, last_error, status
		FROM offline_queue
		WHERE status = ?
		ORDER BY seq ASC
	`
	args := []any{offline.StatusPending}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryEntries(ctx, query, args...)
}

// Rejected returns entries that will not be replayed.
func (s *Store) Rejected(ctx context.Context) ([]offline.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx, `
		SELECT seq, id, domain, op, payload_json, actor_json, enqueued_at, attempts, last_error, status
		FROM offline_queue
		WHERE status = ?
		ORDER BY seq ASC
	`, offline.StatusRejected)
}

func (s *Store) Ack(ctx context.Context, id string) error {
	return s.execEntry(ctx, id, `DELETE FROM offline_queue WHERE id = ?`, id)
}

func (s *Store) Retry(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.execEntry(ctx, id,
		`UPDATE offline_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		msg, id)
}

func (s *Store) Reject(ctx context.Context, id string, reason string) error {
	return s.execEntry(ctx, id,
		`UPDATE offline_queue SET attempts = attempts + 1, last_error = ?, status = ? WHERE id = ?`,
		reason, offline.StatusRejected, id)
}

func (s *Store) execEntry(ctx context.Context, id, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("journal entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("journal entry %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("journal entry %s: %w", id, offline.ErrEntryNotFound)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]offline.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []offline.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (offline.Entry, error) {
	var (
		e          offline.Entry
		payload    string
		actorJSON  string
		enqueuedAt string
		lastError  sql.NullString
	)
	err := rows.Scan(&e.Seq, &e.ID, &e.Domain, &e.Op, &payload, &actorJSON,
		&enqueuedAt, &e.Attempts, &lastError, &e.Status)
	if err != nil {
		return offline.Entry{}, fmt.Errorf("failed to scan journal entry: %w", err)
	}
	e.Payload = json.RawMessage(payload)
	if err := json.Unmarshal([]byte(actorJSON), &e.Actor); err != nil {
		return offline.Entry{}, fmt.Errorf("decode actor of %s: %w", e.ID, err)
	}
	e.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return offline.Entry{}, fmt.Errorf("decode enqueued_at of %s: %w", e.ID, err)
	}
	e.LastError = lastError.String
	return e, nil
}
