package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Settings table - session settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Captures table - one row per burst capture, successful or not
		`CREATE TABLE IF NOT EXISTS captures (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			threshold REAL NOT NULL,
			attempts INTEGER NOT NULL,
			segmented INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			best_score REAL NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Cards table - rendered cards, optionally tied to the capture they show
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			capture_id TEXT REFERENCES captures(id) ON DELETE SET NULL,
			template_id INTEGER NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_captures_session_id ON captures(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_capture_id ON cards(capture_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
