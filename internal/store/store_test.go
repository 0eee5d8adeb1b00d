package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file should exist after New: %v", err)
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
	if got := s.DB().Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestNew_BadPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(filepath.Join(dir, "missing", "test.db")); err == nil {
		t.Error("expected an error for a database in a missing directory")
	}
}

// columns returns the column names of table in declaration order.
func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table_info(%s): %v", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names = append(names, name)
	}
	return names
}

func TestStore_Schema(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		table string
		want  []string
	}{
		{"settings", []string{"key", "value", "updated_at"}},
		{"captures", []string{"id", "session_id", "mode", "threshold", "attempts", "segmented",
			"skipped", "best_score", "succeeded", "duration_ms", "created_at"}},
		{"cards", []string{"id", "capture_id", "template_id", "label", "width", "height", "created_at"}},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			got := columns(t, s.DB(), tt.table)
			if len(got) != len(tt.want) {
				t.Fatalf("columns = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("column %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}

	t.Run("indexes", func(t *testing.T) {
		for _, idx := range []struct{ name, table string }{
			{"idx_captures_session_id", "captures"},
			{"idx_cards_capture_id", "cards"},
		} {
			var table string
			err := s.DB().QueryRow(
				"SELECT tbl_name FROM sqlite_master WHERE type='index' AND name=?", idx.name,
			).Scan(&table)
			if err != nil {
				t.Errorf("index %q missing: %v", idx.name, err)
				continue
			}
			if table != idx.table {
				t.Errorf("index %q on %q, want %q", idx.name, table, idx.table)
			}
		}
	})
}

func TestStore_CardCaptureForeignKey(t *testing.T) {
	s := newTestStore(t)

	var enabled int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if enabled != 1 {
		t.Fatalf("foreign_keys = %d, want 1", enabled)
	}

	var parent, from, to, onDelete string
	err := s.DB().QueryRow(
		`SELECT "table", "from", "to", on_delete FROM pragma_foreign_key_list('cards')`,
	).Scan(&parent, &from, &to, &onDelete)
	if err != nil {
		t.Fatalf("foreign_key_list(cards): %v", err)
	}
	if parent != "captures" || from != "capture_id" || to != "id" || onDelete != "SET NULL" {
		t.Errorf("cards foreign key = %s.%s -> %s (%s)", from, parent, to, onDelete)
	}

	// deleting a capture keeps its cards and detaches them
	c := &Capture{ID: "c1", SessionID: "s", Mode: "person_accurate", Threshold: 0.9, Attempts: 3}
	if err := s.Captures().Create(c); err != nil {
		t.Fatalf("Create capture: %v", err)
	}
	if err := s.Cards().Create(&Card{ID: "k1", CaptureID: "c1", TemplateID: 1, Width: 630, Height: 880}); err != nil {
		t.Fatalf("Create card: %v", err)
	}
	if _, err := s.DB().Exec("DELETE FROM captures WHERE id = ?", "c1"); err != nil {
		t.Fatalf("delete capture: %v", err)
	}

	var captureID sql.NullString
	if err := s.DB().QueryRow("SELECT capture_id FROM cards WHERE id = ?", "k1").Scan(&captureID); err != nil {
		t.Fatalf("select card: %v", err)
	}
	if captureID.Valid {
		t.Errorf("capture_id = %q, want NULL", captureID.String)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Settings().Set(SettingMode, "person_fast"); err == nil {
		t.Error("expected an error writing to a closed store")
	}
}

func TestStore_Migrations_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Settings().Set(SettingMode, "person_fast"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	// reopening runs migrations again and keeps existing rows
	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	got, err := s.Settings().Get(SettingMode)
	if err != nil || got != "person_fast" {
		t.Errorf("Get = %q, %v", got, err)
	}
}
