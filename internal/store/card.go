package store

import (
	"database/sql"
	"time"
)

// Card is the journal entry for one rendered card.
type Card struct {
	ID string
	// CaptureID is empty for background-only cards.
	CaptureID  string
	TemplateID int
	Label      string
	Width      int
	Height     int
	CreatedAt  time.Time
}

// CardRepository records card renders.
type CardRepository struct {
	db *sql.DB
}

// Cards returns the card repository for this store.
func (s *Store) Cards() *CardRepository {
	return &CardRepository{db: s.db}
}

// Create inserts a card record.
func (r *CardRepository) Create(c *Card) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	var captureID sql.NullString
	if c.CaptureID != "" {
		captureID = sql.NullString{String: c.CaptureID, Valid: true}
	}

	_, err := r.db.Exec(
		`INSERT INTO cards (id, capture_id, template_id, label, width, height, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, captureID, c.TemplateID, c.Label, c.Width, c.Height, c.CreatedAt,
	)
	return err
}

// ListByCapture returns the cards rendered from a capture, oldest first.
func (r *CardRepository) ListByCapture(captureID string) ([]*Card, error) {
	return r.query(
		`SELECT id, capture_id, template_id, label, width, height, created_at
		 FROM cards WHERE capture_id = ? ORDER BY created_at, rowid`,
		captureID,
	)
}

// List returns all cards, most recent first.
func (r *CardRepository) List() ([]*Card, error) {
	return r.query(
		`SELECT id, capture_id, template_id, label, width, height, created_at
		 FROM cards ORDER BY created_at DESC, rowid DESC`,
	)
}

func (r *CardRepository) query(q string, args ...any) ([]*Card, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		c := &Card{}
		var captureID sql.NullString
		if err := rows.Scan(&c.ID, &captureID, &c.TemplateID, &c.Label, &c.Width, &c.Height, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CaptureID = captureID.String
		cards = append(cards, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cards, nil
}
