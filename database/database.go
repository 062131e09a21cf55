package database

import (
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// Document is the record kept for every document that has been opened in the
// viewer. Hash deduplicates re-opens of the same file under a new path.
type Document struct {
	ID        int
	Name      string
	Path      string // full path to the file
	Hash      string
	ULID      ulid.ULID // smaller (than hash) id usable in URLs
	PageCount int
	OpenedAt  time.Time
}

// ViewState is the per-document viewing position, saved when a session closes
// so reopening the document restores where the reader left off.
type ViewState struct {
	DocumentULID    string
	LastPage        int
	Zoom            float64
	BaseRasterScale float64
	ScrollTop       float64
	UpdatedAt       time.Time
}

// Repository defines database operations
type Repository interface {
	Close() error
	SaveDocument(doc *Document) error
	GetDocumentByULID(ulid string) (*Document, error)
	GetDocumentByPath(path string) (*Document, error)
	GetDocumentByHash(hash string) (*Document, error)
	GetRecentDocuments(limit int) ([]Document, error)
	DeleteDocument(ulid string) error
	SaveViewState(state *ViewState) error
	GetViewState(documentULID string) (*ViewState, error)
	DeleteOldViewStates(olderThan time.Duration) (int, error)
}

// RegisterDocument records a newly opened document, reusing the existing
// record when the same content was opened before.
func RegisterDocument(path string, documentBytes []byte, pageCount int, db Repository) (*Document, error) {
	fileHash := fmt.Sprintf("%x", md5.Sum(documentBytes))

	if existing, err := db.GetDocumentByHash(fileHash); err == nil && existing != nil {
		Logger.Info("Document already known, reusing record", "ulid", existing.ULID.String(), "name", existing.Name)
		return existing, nil
	}

	now := time.Now()
	newULID, err := CalculateUUID(now)
	if err != nil {
		Logger.Error("Cannot generate ULID", "path", path, "error", err)
		return nil, err
	}

	doc := &Document{
		Name:      filepath.Base(path),
		Path:      path,
		Hash:      fileHash,
		ULID:      newULID,
		PageCount: pageCount,
		OpenedAt:  now,
	}
	if err := db.SaveDocument(doc); err != nil {
		Logger.Error("Unable to save document record", "path", path, "error", err)
		return nil, err
	}
	return doc, nil
}

// HashFile computes the dedup hash for a document on disk.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// CalculateUUID for the incoming file
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
