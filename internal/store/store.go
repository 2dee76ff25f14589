package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/events"
)

// Preference keys.
const (
	PrefRegionSummary = "region_summary"
	PrefUserID        = "user_id"
)

// Store holds preferences and the disconnect history.
type Store struct {
	db           *Database
	historyLimit int
}

// Disconnect is one recorded end of a connection.
type Disconnect struct {
	ID     int64     `json:"id"`
	Time   time.Time `json:"time"`
	Cause  string    `json:"cause"`
	Server string    `json:"server"`
	Region string    `json:"region"`
}

// Open opens the database at path and migrates it. historyLimit bounds the
// number of kept disconnect records; zero keeps all of them.
func Open(path string, historyLimit int) (*Store, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database, historyLimit: historyLimit}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS prefs (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS disconnects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			cause TEXT NOT NULL,
			server TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_disconnects_at ON disconnects(at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("store schema migrated")
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Pref returns the value stored under key, or "" when unset.
func (s *Store) Pref(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM prefs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read pref %s: %w", key, err)
	}
	return value, nil
}

// SetPref stores value under key.
func (s *Store) SetPref(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write pref %s: %w", key, err)
	}
	return nil
}

// RegionSummary returns the persisted best region summary.
func (s *Store) RegionSummary() (string, error) {
	return s.Pref(PrefRegionSummary)
}

// SetRegionSummary persists the best region summary.
func (s *Store) SetRegionSummary(summary string) error {
	return s.SetPref(PrefRegionSummary, summary)
}

// UserID returns the persisted user id, generating and storing a new one
// on first use.
func (s *Store) UserID() (string, error) {
	id, err := s.Pref(PrefUserID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.SetPref(PrefUserID, id); err != nil {
		return "", err
	}
	log.Info().Str("user_id", id).Msg("generated user id")
	return id, nil
}

// RecordDisconnect appends a disconnect record and prunes the history.
func (s *Store) RecordDisconnect(d Disconnect) error {
	if d.Time.IsZero() {
		d.Time = time.Now()
	}

	return s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO disconnects (at, cause, server, region) VALUES (?, ?, ?, ?)",
			d.Time.UnixMilli(), d.Cause, d.Server, d.Region); err != nil {
			return fmt.Errorf("failed to record disconnect: %w", err)
		}
		if s.historyLimit <= 0 {
			return nil
		}
		if _, err := tx.Exec(`
			DELETE FROM disconnects WHERE id NOT IN (
				SELECT id FROM disconnects ORDER BY at DESC, id DESC LIMIT ?
			)`, s.historyLimit); err != nil {
			return fmt.Errorf("failed to prune disconnect history: %w", err)
		}
		return nil
	})
}

// RecentDisconnects returns up to n records, newest first.
func (s *Store) RecentDisconnects(n int) ([]Disconnect, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(
		"SELECT id, at, cause, server, region FROM disconnects ORDER BY at DESC, id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("failed to query disconnects: %w", err)
	}
	defer rows.Close()

	var out []Disconnect
	for rows.Next() {
		var (
			d  Disconnect
			at int64
		)
		if err := rows.Scan(&d.ID, &at, &d.Cause, &d.Server, &d.Region); err != nil {
			return nil, fmt.Errorf("failed to scan disconnect: %w", err)
		}
		d.Time = time.UnixMilli(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Subscribe persists disconnects and region summaries published on bus.
func (s *Store) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventDisconnected, "store", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.DisconnectedPayload)
		if !ok {
			return nil
		}
		return s.RecordDisconnect(Disconnect{Time: e.Time, Cause: p.Cause, Server: p.Server, Region: p.Region})
	})

	bus.Subscribe(events.EventRegionsPinged, "store", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.RegionsPingedPayload)
		if !ok || p.Summary == "" {
			return nil
		}
		return s.SetRegionSummary(p.Summary)
	})
}
