package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/goview/config"
	"github.com/drummonds/goview/database"
	"github.com/drummonds/goview/render"
	"github.com/drummonds/goview/render/backend"
)

// ServerHandler owns the HTTP layer and the live view sessions.
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewServerHandler wires the handler up with an empty session table.
func NewServerHandler(db database.Repository, e *echo.Echo, serverConfig config.ServerConfig) *ServerHandler {
	return &ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		sessions:     make(map[string]*Session),
	}
}

// Session is one open document being viewed: a Viewer plus the record and
// scroll bookkeeping needed to persist the reading position on close.
type Session struct {
	ULID     string
	Document *database.Document
	Viewer   *render.Viewer

	mu        sync.Mutex
	scrollTop float64
	height    float64
	lastUsed  time.Time
}

// Touch marks the session as recently used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// LastUsed returns when the session last served a request.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// SetScroll records the client's scroll position for later persistence.
func (s *Session) SetScroll(scrollTop, height float64) {
	s.mu.Lock()
	s.scrollTop, s.height = scrollTop, height
	s.mu.Unlock()
}

// Scroll returns the last recorded scroll position.
func (s *Session) Scroll() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollTop, s.height
}

// newBackend constructs the configured render engine, falling back to the
// registry default when none is configured.
func (serverHandler *ServerHandler) newBackend() (backend.Backend, error) {
	if name := serverHandler.ServerConfig.Backend; name != "" {
		return backend.New(name)
	}
	return backend.Default()
}

func (serverHandler *ServerHandler) renderConfig() render.Config {
	cfg := serverHandler.ServerConfig.RenderConfig
	return render.Config{
		MaxConcurrency:   cfg.MaxConcurrency,
		MaxPagesAlive:    cfg.MaxPagesAlive,
		PrefetchBuffer:   cfg.PrefetchBuffer,
		RootMargin:       cfg.RootMargin,
		DevicePixelRatio: cfg.DevicePixelRatio,
		PageGap:          cfg.PageGap,
		ThumbnailWidth:   cfg.ThumbnailWidth,
		ZoomDelta:        cfg.ZoomDelta,
	}
}

// OpenSession loads documentBytes into a fresh viewer and registers the
// document. Reopening a document that already has a live session returns the
// existing session. A saved view state, when one exists, is returned so the
// client can restore the reading position.
func (serverHandler *ServerHandler) OpenSession(ctx context.Context, path string, documentBytes []byte) (*Session, *database.ViewState, error) {
	be, err := serverHandler.newBackend()
	if err != nil {
		return nil, nil, fmt.Errorf("no render backend available: %w", err)
	}

	viewer := render.NewViewer(be, serverHandler.renderConfig())
	if err := viewer.Load(ctx, documentBytes); err != nil {
		viewer.Dispose()
		return nil, nil, err
	}

	doc, err := database.RegisterDocument(path, documentBytes, viewer.PageCount(), serverHandler.DB)
	if err != nil {
		viewer.Dispose()
		return nil, nil, err
	}

	ulidStr := doc.ULID.String()

	serverHandler.mu.Lock()
	if existing, ok := serverHandler.sessions[ulidStr]; ok {
		serverHandler.mu.Unlock()
		viewer.Dispose()
		existing.Touch()
		return existing, nil, nil
	}
	session := &Session{
		ULID:     ulidStr,
		Document: doc,
		Viewer:   viewer,
		lastUsed: time.Now(),
	}
	serverHandler.sessions[ulidStr] = session
	serverHandler.mu.Unlock()

	state, err := serverHandler.DB.GetViewState(ulidStr)
	if err != nil {
		Logger.Warn("Unable to fetch saved view state", "ulid", ulidStr, "error", err)
		state = nil
	}
	if state != nil {
		viewer.RestoreScale(state.BaseRasterScale)
		viewer.SetZoom(state.Zoom)
	}

	Logger.Info("Session opened", "ulid", ulidStr, "name", doc.Name, "pages", doc.PageCount)
	return session, state, nil
}

// GetSession fetches a live session by ULID.
func (serverHandler *ServerHandler) GetSession(ulidStr string) (*Session, bool) {
	serverHandler.mu.Lock()
	session, ok := serverHandler.sessions[ulidStr]
	serverHandler.mu.Unlock()
	if ok {
		session.Touch()
	}
	return session, ok
}

// CloseSession persists the session's view state and disposes its viewer.
func (serverHandler *ServerHandler) CloseSession(ulidStr string) error {
	serverHandler.mu.Lock()
	session, ok := serverHandler.sessions[ulidStr]
	delete(serverHandler.sessions, ulidStr)
	serverHandler.mu.Unlock()
	if !ok {
		return fmt.Errorf("no session for %s", ulidStr)
	}

	if err := serverHandler.persistViewState(session); err != nil {
		Logger.Error("Unable to persist view state", "ulid", ulidStr, "error", err)
	}
	session.Viewer.Dispose()
	Logger.Info("Session closed", "ulid", ulidStr)
	return nil
}

// SessionCount returns the number of live sessions.
func (serverHandler *ServerHandler) SessionCount() int {
	serverHandler.mu.Lock()
	defer serverHandler.mu.Unlock()
	return len(serverHandler.sessions)
}

// SweepIdleSessions closes every session idle for longer than maxIdle and
// returns how many were closed.
func (serverHandler *ServerHandler) SweepIdleSessions(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	serverHandler.mu.Lock()
	var stale []string
	for ulidStr, session := range serverHandler.sessions {
		if session.LastUsed().Before(cutoff) {
			stale = append(stale, ulidStr)
		}
	}
	serverHandler.mu.Unlock()

	for _, ulidStr := range stale {
		Logger.Info("Closing idle session", "ulid", ulidStr)
		if err := serverHandler.CloseSession(ulidStr); err != nil {
			Logger.Error("Failed closing idle session", "ulid", ulidStr, "error", err)
		}
	}
	return len(stale)
}

// CloseAllSessions shuts every session down, persisting view states.
func (serverHandler *ServerHandler) CloseAllSessions() {
	serverHandler.mu.Lock()
	var all []string
	for ulidStr := range serverHandler.sessions {
		all = append(all, ulidStr)
	}
	serverHandler.mu.Unlock()
	for _, ulidStr := range all {
		if err := serverHandler.CloseSession(ulidStr); err != nil {
			Logger.Error("Failed closing session on shutdown", "ulid", ulidStr, "error", err)
		}
	}
}

func (serverHandler *ServerHandler) persistViewState(session *Session) error {
	scrollTop, _ := session.Scroll()
	lastPage := 0
	if visible := session.Viewer.VisiblePages(); len(visible) > 0 {
		lastPage = visible[0]
	}
	return serverHandler.DB.SaveViewState(&database.ViewState{
		DocumentULID:    session.ULID,
		LastPage:        lastPage,
		Zoom:            session.Viewer.Zoom(),
		BaseRasterScale: session.Viewer.Scale().BaseRasterScale,
		ScrollTop:       scrollTop,
		UpdatedAt:       time.Now(),
	})
}
