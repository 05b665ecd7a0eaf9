// Package store persists session lifecycle events and style anchors in
// sqlite. Events mirror the in-memory history for audit and replay;
// anchors outlive a session so a later edit of the same deck can reuse
// the original style.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/akira/slidesmith/internal/session"
)

type Store struct {
	DB *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			event_id TEXT,
			type TEXT,
			payload TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS anchors (
			deck_id TEXT PRIMARY KEY,
			anchor_id TEXT,
			origin TEXT,
			image BLOB,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			deck_id TEXT,
			objective TEXT,
			outcome TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, err
		}
	}

	return &Store{DB: db}, nil
}

// Emit records one lifecycle event. The store satisfies the
// supervisor's event sink.
func (s *Store) Emit(sessionID string, e session.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	query := `INSERT INTO events (session_id, event_id, type, payload) VALUES (?, ?, ?, ?)`
	_, err = s.DB.Exec(query, sessionID, e.ID, string(e.Type), string(payload))
	return err
}

// Events replays a session's event log in insertion order.
func (s *Store) Events(sessionID string) ([]session.Event, error) {
	query := `SELECT payload FROM events WHERE session_id = ? ORDER BY id ASC`
	rows, err := s.DB.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []session.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e session.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("corrupt event payload: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveAnchor upserts the anchor for a deck.
func (s *Store) SaveAnchor(deckID string, ref session.AnchorRef) error {
	query := `INSERT INTO anchors (deck_id, anchor_id, origin, image) VALUES (?, ?, ?, ?)
		ON CONFLICT(deck_id) DO UPDATE SET anchor_id=excluded.anchor_id, origin=excluded.origin, image=excluded.image, timestamp=CURRENT_TIMESTAMP`
	_, err := s.DB.Exec(query, deckID, ref.ID, string(ref.Origin), ref.Image)
	return err
}

// LookupAnchor fetches a prior deck's anchor, if one was recorded.
func (s *Store) LookupAnchor(deckID string) (session.AnchorRef, bool, error) {
	query := `SELECT anchor_id, origin, image FROM anchors WHERE deck_id = ?`
	row := s.DB.QueryRow(query, deckID)

	var ref session.AnchorRef
	var origin string
	err := row.Scan(&ref.ID, &origin, &ref.Image)
	if err == sql.ErrNoRows {
		return session.AnchorRef{}, false, nil
	}
	if err != nil {
		return session.AnchorRef{}, false, err
	}
	ref.Origin = session.AnchorOrigin(origin)
	return ref, true, nil
}

// RecordSession upserts the session row with its final outcome.
func (s *Store) RecordSession(sessionID, deckID, objective, outcome string) error {
	query := `INSERT INTO sessions (session_id, deck_id, objective, outcome) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET outcome=excluded.outcome, timestamp=CURRENT_TIMESTAMP`
	_, err := s.DB.Exec(query, sessionID, deckID, objective, outcome)
	return err
}

func (s *Store) Close() error {
	return s.DB.Close()
}
