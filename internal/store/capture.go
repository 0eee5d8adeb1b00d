package store

import (
	"database/sql"
	"errors"
	"time"
)

// Capture is the journal entry for one burst capture.
type Capture struct {
	ID        string
	SessionID string
	Mode      string
	Threshold float64
	Attempts  int
	Segmented int
	Skipped   int
	BestScore float64
	Succeeded bool
	Duration  time.Duration
	CreatedAt time.Time
}

// CaptureRepository records captures.
type CaptureRepository struct {
	db *sql.DB
}

// Captures returns the capture repository for this store.
func (s *Store) Captures() *CaptureRepository {
	return &CaptureRepository{db: s.db}
}

// Create inserts a capture record.
func (r *CaptureRepository) Create(c *Capture) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO captures (id, session_id, mode, threshold, attempts, segmented, skipped,
		   best_score, succeeded, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Mode, c.Threshold, c.Attempts, c.Segmented, c.Skipped,
		c.BestScore, c.Succeeded, c.Duration.Milliseconds(), c.CreatedAt,
	)
	return err
}

// GetByID retrieves a capture by its ID.
func (r *CaptureRepository) GetByID(id string) (*Capture, error) {
	row := r.db.QueryRow(
		`SELECT id, session_id, mode, threshold, attempts, segmented, skipped,
		   best_score, succeeded, duration_ms, created_at
		 FROM captures WHERE id = ?`,
		id,
	)
	c, err := scanCapture(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns the most recent captures first, at most limit of them
// (all when limit <= 0).
func (r *CaptureRepository) List(limit int) ([]*Capture, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT id, session_id, mode, threshold, attempts, segmented, skipped,
		   best_score, succeeded, duration_ms, created_at
		 FROM captures ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []*Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return captures, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapture(s scanner) (*Capture, error) {
	c := &Capture{}
	var ms int64
	err := s.Scan(&c.ID, &c.SessionID, &c.Mode, &c.Threshold, &c.Attempts, &c.Segmented, &c.Skipped,
		&c.BestScore, &c.Succeeded, &ms, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Duration = time.Duration(ms) * time.Millisecond
	return c, nil
}
