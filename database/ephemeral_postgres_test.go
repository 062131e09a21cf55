package database

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestSetupEphemeralPostgresDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ephemeral postgres test in short mode")
	}
	// Setup logger for test
	Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	t.Log("Testing SetupEphemeralPostgresDatabase function...")

	ephemeralDB, err := SetupEphemeralPostgresDatabase()
	if err != nil {
		t.Skipf("Ephemeral postgres unavailable on this machine: %v", err)
	}
	defer ephemeralDB.Close()

	t.Log("Ephemeral database setup successfully!")

	doc := &Document{
		Name:      "test.pdf",
		Path:      "/test/test.pdf",
		Hash:      "testhash123",
		ULID:      ulid.Make(),
		PageCount: 12,
		OpenedAt:  time.Now(),
	}

	if err := ephemeralDB.SaveDocument(doc); err != nil {
		t.Fatalf("Failed to save document: %v", err)
	}
	t.Logf("Document saved with ID: %d", doc.ID)

	retrievedDoc, err := ephemeralDB.GetDocumentByULID(doc.ULID.String())
	if err != nil {
		t.Fatalf("Failed to retrieve document: %v", err)
	}
	if retrievedDoc.Name != doc.Name {
		t.Fatalf("Expected document name '%s', got '%s'", doc.Name, retrievedDoc.Name)
	}

	state := &ViewState{
		DocumentULID:    doc.ULID.String(),
		LastPage:        3,
		Zoom:            1.2,
		BaseRasterScale: 2.4,
		ScrollTop:       640,
	}
	if err := ephemeralDB.SaveViewState(state); err != nil {
		t.Fatalf("Failed to save view state: %v", err)
	}

	retrievedState, err := ephemeralDB.GetViewState(doc.ULID.String())
	if err != nil {
		t.Fatalf("Failed to retrieve view state: %v", err)
	}
	if retrievedState == nil || retrievedState.LastPage != 3 {
		t.Fatalf("View state mismatch: %+v", retrievedState)
	}

	t.Log("Successfully saved and retrieved document and view state from ephemeral database!")
}
