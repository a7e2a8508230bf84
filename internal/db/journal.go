package db

import (
	"context"
	"encoding/json"
	"time"
)

const defaultRecentLimit = 50
const maxRecentLimit = 500

// AccessEntry is one access_log row.
type AccessEntry struct {
	ID        int64     `json:"id"`
	Tool      string    `json:"tool"`
	Requested string    `json:"requested"`
	Resolved  string    `json:"resolved,omitempty"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
	LinkCount uint64    `json:"link_count,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RootEvent is one root_events row: the allowed set installed by source.
type RootEvent struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Dirs      []string  `json:"dirs"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordAccess appends e. A zero CreatedAt is set to now.
func (s *Store) RecordAccess(ctx context.Context, e AccessEntry) error {
	if s == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO access_log (tool, requested, resolved, decision, reason, link_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Tool, e.Requested, e.Resolved, e.Decision, e.Reason, int64(e.LinkCount), e.CreatedAt)
	return err
}

// RecordRootEvent appends ev. A zero CreatedAt is set to now.
func (s *Store) RecordRootEvent(ctx context.Context, ev RootEvent) error {
	if s == nil {
		return nil
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	dirs, err := json.Marshal(ev.Dirs)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO root_events (source, dirs, created_at) VALUES (?, ?, ?)
	`, ev.Source, string(dirs), ev.CreatedAt)
	return err
}

// RecentAccess returns up to limit entries, newest first.
func (s *Store) RecentAccess(ctx context.Context, limit int) ([]AccessEntry, error) {
	if s == nil {
		return []AccessEntry{}, nil
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, tool, requested, resolved, decision, reason, link_count, created_at
		FROM access_log ORDER BY id DESC LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AccessEntry{}
	for rows.Next() {
		var e AccessEntry
		var links int64
		if err := rows.Scan(&e.ID, &e.Tool, &e.Requested, &e.Resolved, &e.Decision, &e.Reason, &links, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.LinkCount = uint64(links)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentRootEvents returns up to limit events, newest first.
func (s *Store) RecentRootEvents(ctx context.Context, limit int) ([]RootEvent, error) {
	if s == nil {
		return []RootEvent{}, nil
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, source, dirs, created_at FROM root_events ORDER BY id DESC LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RootEvent{}
	for rows.Next() {
		var ev RootEvent
		var dirs string
		if err := rows.Scan(&ev.ID, &ev.Source, &dirs, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dirs), &ev.Dirs); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}
