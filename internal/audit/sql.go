package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// dialect holds the statements that differ between database backends.
type dialect struct {
	schema []string
	insert string
	recent string
}

// Statements for drivers that use ? placeholders.
const (
	questionMarkInsert = `
		INSERT INTO membership_events (kind, client, session_id, remote_addr, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)`
	questionMarkRecent = `
		SELECT id, kind, client, session_id, remote_addr, reason, at
		FROM membership_events ORDER BY id DESC LIMIT ?`
)

// sqlStore is shared by every database backend.
type sqlStore struct {
	db *sql.DB
	d  dialect

	mu     sync.RWMutex
	closed bool
}

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d}
	if err := s.initDB(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) initDB() error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init audit schema: %w", err)
		}
	}
	return nil
}

// Record inserts e.
func (s *sqlStore) Record(ctx context.Context, e Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, s.d.insert,
		string(e.Kind), e.Client, e.SessionID, e.RemoteAddr, e.Reason, e.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", e.Kind, err)
	}
	return nil
}

func (s *sqlStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, s.d.recent, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.Client, &e.SessionID, &e.RemoteAddr, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = Kind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
