package database

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/drummonds/goview/config"
	"github.com/oklog/ulid/v2"
)

func TestBunSQLiteDatabase(t *testing.T) {
	// Initialize logger for tests
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	tmpFile := ":memory:"

	// Setup Bun with SQLite
	db := NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: tmpFile})
	defer db.Close()

	t.Log("Bun SQLite database setup successfully")

	t.Run("Create and retrieve document", func(t *testing.T) {
		doc := &Document{
			Name:      "report.pdf",
			Path:      "/tmp/report.pdf",
			Hash:      "hash123",
			ULID:      ulid.Make(),
			PageCount: 42,
			OpenedAt:  time.Now(),
		}

		err := db.SaveDocument(doc)
		if err != nil {
			t.Fatalf("Failed to save document: %v", err)
		}

		if doc.ID == 0 {
			t.Error("Document ID was not set after save")
		}

		retrieved, err := db.GetDocumentByULID(doc.ULID.String())
		if err != nil {
			t.Fatalf("Failed to get document by ULID: %v", err)
		}

		if retrieved.Name != doc.Name {
			t.Errorf("Expected name %s, got %s", doc.Name, retrieved.Name)
		}
		if retrieved.PageCount != 42 {
			t.Errorf("Expected page count 42, got %d", retrieved.PageCount)
		}

		byPath, err := db.GetDocumentByPath(doc.Path)
		if err != nil {
			t.Fatalf("Failed to get document by path: %v", err)
		}
		if byPath.ID != doc.ID {
			t.Errorf("Expected ID %d, got %d", doc.ID, byPath.ID)
		}
	})

	t.Run("Hash lookup returns nil without rows", func(t *testing.T) {
		found, err := db.GetDocumentByHash("no-such-hash")
		if err != nil {
			t.Fatalf("Hash lookup errored: %v", err)
		}
		if found != nil {
			t.Errorf("Expected nil for unknown hash, got %+v", found)
		}
	})

	t.Run("Reopening updates the record", func(t *testing.T) {
		doc := &Document{
			Name:      "report.pdf",
			Path:      "/tmp/report.pdf",
			Hash:      "hash123",
			ULID:      ulid.Make(),
			PageCount: 43,
			OpenedAt:  time.Now(),
		}

		err := db.SaveDocument(doc)
		if err != nil {
			t.Fatalf("Failed to upsert document: %v", err)
		}

		retrieved, err := db.GetDocumentByPath("/tmp/report.pdf")
		if err != nil {
			t.Fatalf("Failed to get document: %v", err)
		}
		if retrieved.PageCount != 43 {
			t.Errorf("Expected updated page count 43, got %d", retrieved.PageCount)
		}
	})

	t.Run("Save and retrieve view state", func(t *testing.T) {
		docULID := ulid.Make().String()
		state := &ViewState{
			DocumentULID:    docULID,
			LastPage:        7,
			Zoom:            1.5,
			BaseRasterScale: 2.0,
			ScrollTop:       1234.5,
		}

		err := db.SaveViewState(state)
		if err != nil {
			t.Fatalf("Failed to save view state: %v", err)
		}

		retrieved, err := db.GetViewState(docULID)
		if err != nil {
			t.Fatalf("Failed to get view state: %v", err)
		}
		if retrieved == nil {
			t.Fatal("Expected a view state, got nil")
		}
		if retrieved.LastPage != 7 || retrieved.Zoom != 1.5 {
			t.Errorf("View state mismatch: %+v", retrieved)
		}

		// Upsert replaces the position
		state.LastPage = 9
		state.ScrollTop = 2000
		err = db.SaveViewState(state)
		if err != nil {
			t.Fatalf("Failed to upsert view state: %v", err)
		}

		retrieved, err = db.GetViewState(docULID)
		if err != nil {
			t.Fatalf("Failed to re-get view state: %v", err)
		}
		if retrieved.LastPage != 9 {
			t.Errorf("Expected last page 9 after upsert, got %d", retrieved.LastPage)
		}
	})

	t.Run("View state for unknown document is nil", func(t *testing.T) {
		state, err := db.GetViewState(ulid.Make().String())
		if err != nil {
			t.Fatalf("Lookup errored: %v", err)
		}
		if state != nil {
			t.Errorf("Expected nil view state, got %+v", state)
		}
	})

	t.Run("Delete old view states", func(t *testing.T) {
		stale := &ViewState{
			DocumentULID: ulid.Make().String(),
			LastPage:     1,
			UpdatedAt:    time.Now().Add(-48 * time.Hour),
		}
		fresh := &ViewState{
			DocumentULID: ulid.Make().String(),
			LastPage:     2,
			UpdatedAt:    time.Now(),
		}
		if err := db.SaveViewState(stale); err != nil {
			t.Fatalf("Failed to save stale state: %v", err)
		}
		if err := db.SaveViewState(fresh); err != nil {
			t.Fatalf("Failed to save fresh state: %v", err)
		}

		deleted, err := db.DeleteOldViewStates(24 * time.Hour)
		if err != nil {
			t.Fatalf("Failed to delete old view states: %v", err)
		}
		if deleted < 1 {
			t.Errorf("Expected at least 1 stale state deleted, got %d", deleted)
		}

		remaining, err := db.GetViewState(fresh.DocumentULID)
		if err != nil {
			t.Fatalf("Failed to get fresh state: %v", err)
		}
		if remaining == nil {
			t.Error("Fresh view state should have survived the sweep")
		}
		gone, err := db.GetViewState(stale.DocumentULID)
		if err != nil {
			t.Fatalf("Lookup errored: %v", err)
		}
		if gone != nil {
			t.Error("Stale view state should have been deleted")
		}
	})

	t.Run("Recent documents ordering", func(t *testing.T) {
		older := &Document{
			Name: "older.pdf", Path: "/tmp/older.pdf", Hash: "hash-older",
			ULID: ulid.Make(), PageCount: 1, OpenedAt: time.Now().Add(-time.Hour),
		}
		newer := &Document{
			Name: "newer.pdf", Path: "/tmp/newer.pdf", Hash: "hash-newer",
			ULID: ulid.Make(), PageCount: 1, OpenedAt: time.Now(),
		}
		if err := db.SaveDocument(older); err != nil {
			t.Fatalf("Failed to save older document: %v", err)
		}
		if err := db.SaveDocument(newer); err != nil {
			t.Fatalf("Failed to save newer document: %v", err)
		}

		recent, err := db.GetRecentDocuments(1)
		if err != nil {
			t.Fatalf("Failed to get recent documents: %v", err)
		}
		if len(recent) != 1 || recent[0].Name != "newer.pdf" {
			t.Errorf("Expected newest document first, got %+v", recent)
		}
	})

	t.Run("Delete document removes view state too", func(t *testing.T) {
		doc := &Document{
			Name: "gone.pdf", Path: "/tmp/gone.pdf", Hash: "hash-gone",
			ULID: ulid.Make(), PageCount: 3, OpenedAt: time.Now(),
		}
		if err := db.SaveDocument(doc); err != nil {
			t.Fatalf("Failed to save document: %v", err)
		}
		if err := db.SaveViewState(&ViewState{DocumentULID: doc.ULID.String(), LastPage: 2}); err != nil {
			t.Fatalf("Failed to save view state: %v", err)
		}

		if err := db.DeleteDocument(doc.ULID.String()); err != nil {
			t.Fatalf("Failed to delete document: %v", err)
		}

		state, err := db.GetViewState(doc.ULID.String())
		if err != nil {
			t.Fatalf("Lookup errored: %v", err)
		}
		if state != nil {
			t.Error("View state should be deleted alongside its document")
		}
	})
}
