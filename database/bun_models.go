package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunDocument represents the documents table for Bun ORM
type BunDocument struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID        int       `bun:"id,pk,autoincrement"`
	Name      string    `bun:"name,notnull"`
	Path      string    `bun:"path,notnull,unique"`
	Hash      string    `bun:"hash,notnull,unique"`
	ULID      string    `bun:"ulid,notnull,unique"` // Stored as string in DB
	PageCount int       `bun:"page_count,notnull,default:0"`
	OpenedAt  time.Time `bun:"opened_at,notnull,default:current_timestamp"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ToDocument converts BunDocument to Document
func (bd *BunDocument) ToDocument() (*Document, error) {
	parsedULID, err := ulid.Parse(bd.ULID)
	if err != nil {
		return nil, err
	}

	return &Document{
		ID:        bd.ID,
		Name:      bd.Name,
		Path:      bd.Path,
		Hash:      bd.Hash,
		ULID:      parsedULID,
		PageCount: bd.PageCount,
		OpenedAt:  bd.OpenedAt,
	}, nil
}

// FromDocument converts Document to BunDocument
func FromDocument(doc *Document) *BunDocument {
	return &BunDocument{
		ID:        doc.ID,
		Name:      doc.Name,
		Path:      doc.Path,
		Hash:      doc.Hash,
		ULID:      doc.ULID.String(),
		PageCount: doc.PageCount,
		OpenedAt:  doc.OpenedAt,
	}
}

// BunViewState represents the view_states table for Bun ORM
type BunViewState struct {
	bun.BaseModel `bun:"table:view_states,alias:vs"`

	DocumentULID    string    `bun:"document_ulid,pk"`
	LastPage        int       `bun:"last_page,notnull,default:0"`
	Zoom            float64   `bun:"zoom,notnull,default:1"`
	BaseRasterScale float64   `bun:"base_raster_scale,notnull,default:1"`
	ScrollTop       float64   `bun:"scroll_top,notnull,default:0"`
	UpdatedAt       time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ToViewState converts BunViewState to ViewState
func (bvs *BunViewState) ToViewState() *ViewState {
	return &ViewState{
		DocumentULID:    bvs.DocumentULID,
		LastPage:        bvs.LastPage,
		Zoom:            bvs.Zoom,
		BaseRasterScale: bvs.BaseRasterScale,
		ScrollTop:       bvs.ScrollTop,
		UpdatedAt:       bvs.UpdatedAt,
	}
}

// FromViewState converts ViewState to BunViewState
func FromViewState(state *ViewState) *BunViewState {
	return &BunViewState{
		DocumentULID:    state.DocumentULID,
		LastPage:        state.LastPage,
		Zoom:            state.Zoom,
		BaseRasterScale: state.BaseRasterScale,
		ScrollTop:       state.ScrollTop,
		UpdatedAt:       state.UpdatedAt,
	}
}
