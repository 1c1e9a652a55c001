package db

import (
	"testing"

	"github.com/friendsincode/mediabridge/internal/config"
	"github.com/friendsincode/mediabridge/internal/models"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	database, err := Open(config.DatabaseSQLite, "file::memory:", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !database.Migrator().HasTable(&models.PlayingState{}) {
		t.Fatal("playing_states table missing")
	}
	UpdateConnectionMetrics(database)
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("oracle", "x", false); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
