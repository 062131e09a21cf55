package engine

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/natefinch/atomic"
)

type viewportRequest struct {
	ScrollTop float64 `json:"scrollTop"`
	Height    float64 `json:"height"`
}

type zoomRequest struct {
	Action string  `json:"action"` // in, out, set, force
	Zoom   float64 `json:"zoom"`
}

type fitRequest struct {
	ContainerWidth float64 `json:"containerWidth"`
}

type openResponse struct {
	SessionID string   `json:"sessionId"`
	Name      string   `json:"name"`
	PageCount int      `json:"pageCount"`
	PageGap   float64  `json:"pageGap"`
	Zoom      float64  `json:"zoom"`
	LastPage  *int     `json:"lastPage,omitempty"`
	ScrollTop *float64 `json:"scrollTop,omitempty"`
}

// ConfigureRoutes registers every API route on the handler's echo instance.
func (serverHandler *ServerHandler) ConfigureRoutes() {
	api := serverHandler.Echo.Group("/api")

	api.POST("/document/open", serverHandler.OpenDocument)
	api.GET("/documents/recent", serverHandler.GetRecentDocuments)

	api.GET("/session/:id/page/:page", serverHandler.GetPage)
	api.GET("/session/:id/thumbnail/:page", serverHandler.GetThumbnail)
	api.GET("/session/:id/text/:page", serverHandler.GetPageText)
	api.GET("/session/:id/stats", serverHandler.GetSessionStats)
	api.POST("/session/:id/viewport", serverHandler.UpdateViewport)
	api.POST("/session/:id/zoom", serverHandler.UpdateZoom)
	api.POST("/session/:id/zoom/fit", serverHandler.FitToWidth)
	api.POST("/session/:id/export/:page", serverHandler.ExportPage)
	api.DELETE("/session/:id", serverHandler.DeleteSession)
}

// OpenDocument accepts an uploaded document and opens a view session for it
// @Summary Open a document
// @Description Upload a document and start a render session, restoring any saved reading position
// @Tags Sessions
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Document file to open"
// @Success 200 {object} openResponse "Session details"
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /document/open [post]
func (serverHandler *ServerHandler) OpenDocument(context echo.Context) error {
	file, fileHeader, err := context.Request().FormFile("file")
	if err != nil {
		Logger.Error("Open request without a file", "error", err)
		return context.JSON(http.StatusBadRequest, map[string]interface{}{"error": "missing file"})
	}
	defer file.Close()

	documentBytes, err := io.ReadAll(file)
	if err != nil {
		Logger.Error("Unable to read uploaded document", "error", err)
		return context.JSON(http.StatusInternalServerError, err)
	}

	path := filepath.Join(serverHandler.ServerConfig.DocumentPath, filepath.Base(fileHeader.Filename))
	if err := os.WriteFile(path, documentBytes, 0644); err != nil {
		Logger.Error("Unable to store uploaded document", "path", path, "error", err)
		return context.JSON(http.StatusInternalServerError, err)
	}

	session, state, err := serverHandler.OpenSession(context.Request().Context(), path, documentBytes)
	if err != nil {
		Logger.Error("Unable to open session", "path", path, "error", err)
		return context.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}

	response := openResponse{
		SessionID: session.ULID,
		Name:      session.Document.Name,
		PageCount: session.Viewer.PageCount(),
		PageGap:   serverHandler.ServerConfig.PageGap,
		Zoom:      session.Viewer.Zoom(),
	}
	if state != nil {
		response.LastPage = &state.LastPage
		response.ScrollTop = &state.ScrollTop
	}
	return context.JSON(http.StatusOK, response)
}

// GetRecentDocuments lists the most recently opened documents
// @Summary Get recent documents
// @Description Retrieve the most recently opened documents
// @Tags Documents
// @Produce json
// @Success 200 {array} database.Document "Recent documents"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /documents/recent [get]
func (serverHandler *ServerHandler) GetRecentDocuments(context echo.Context) error {
	documents, err := serverHandler.DB.GetRecentDocuments(20)
	if err != nil {
		Logger.Error("Unable to fetch recent documents", "error", err)
		return context.JSON(http.StatusInternalServerError, err)
	}
	return context.JSON(http.StatusOK, documents)
}

// GetPage serves the current raster of one page as PNG
// @Summary Get a rendered page
// @Description Serve the page raster as PNG. Returns 404 until the page has been rendered
// @Tags Sessions
// @Produce png
// @Param id path string true "Session ULID"
// @Param page path int true "Zero-based page index"
// @Success 200 {file} binary "PNG image"
// @Failure 404 {object} map[string]interface{} "Session or raster not found"
// @Router /session/{id}/page/{page} [get]
func (serverHandler *ServerHandler) GetPage(context echo.Context) error {
	session, page, ok := serverHandler.sessionPage(context)
	if !ok {
		return nil
	}

	raster, ok := session.Viewer.RenderedPage(page)
	if !ok {
		return context.JSON(http.StatusNotFound, map[string]interface{}{"error": "page not rendered"})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		Logger.Error("Unable to encode page raster", "page", page, "error", err)
		return context.JSON(http.StatusInternalServerError, err)
	}
	return context.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// GetThumbnail serves a small preview of one page as PNG
// @Summary Get a page thumbnail
// @Description Render and serve a downscaled preview of the page
// @Tags Sessions
// @Produce png
// @Param id path string true "Session ULID"
// @Param page path int true "Zero-based page index"
// @Success 200 {file} binary "PNG image"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Failure 500 {object} map[string]interface{} "Render failed"
// @Router /session/{id}/thumbnail/{page} [get]
func (serverHandler *ServerHandler) GetThumbnail(context echo.Context) error {
	session, page, ok := serverHandler.sessionPage(context)
	if !ok {
		return nil
	}

	thumbnail, err := session.Viewer.Thumbnail(context.Request().Context(), page)
	if err != nil {
		Logger.Error("Thumbnail render failed", "page", page, "error", err)
		return context.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumbnail); err != nil {
		return context.JSON(http.StatusInternalServerError, err)
	}
	return context.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// GetPageText returns the positioned text runs of one page
// @Summary Get page text
// @Description Extract the positioned text runs for a page, for selection overlays
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ULID"
// @Param page path int true "Zero-based page index"
// @Success 200 {array} backend.TextRun "Text runs"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Failure 500 {object} map[string]interface{} "Extraction failed"
// @Router /session/{id}/text/{page} [get]
func (serverHandler *ServerHandler) GetPageText(context echo.Context) error {
	session, page, ok := serverHandler.sessionPage(context)
	if !ok {
		return nil
	}

	runs, err := session.Viewer.TextRuns(context.Request().Context(), page)
	if err != nil {
		Logger.Error("Text extraction failed", "page", page, "error", err)
		return context.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	return context.JSON(http.StatusOK, runs)
}

// GetSessionStats returns render pipeline statistics for a session
// @Summary Get session statistics
// @Description Retrieve queue depth, pages alive, pool memory and visible pages
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ULID"
// @Success 200 {object} render.ViewerStats "Statistics snapshot"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /session/{id}/stats [get]
func (serverHandler *ServerHandler) GetSessionStats(context echo.Context) error {
	session, ok := serverHandler.GetSession(context.Param("id"))
	if !ok {
		return context.JSON(http.StatusNotFound, map[string]interface{}{"error": "session not found"})
	}
	return context.JSON(http.StatusOK, session.Viewer.Stats())
}

// UpdateViewport tells the session where the client has scrolled to
// @Summary Update the viewport
// @Description Report the client scroll position so visible pages render and stale ones evict
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ULID"
// @Param viewport body viewportRequest true "Scroll position and viewport height"
// @Success 200 {object} map[string]interface{} "Visible pages"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /session/{id}/viewport [post]
func (serverHandler *ServerHandler) UpdateViewport(context echo.Context) error {
	session, ok := serverHandler.GetSession(context.Param("id"))
	if !ok {
		return context.JSON(http.StatusNotFound, map[string]interface{}{"error": "session not found"})
	}

	var request viewportRequest
	if err := context.Bind(&request); err != nil {
		return context.JSON(http.StatusBadRequest, err)
	}

	session.SetScroll(request.ScrollTop, request.Height)
	session.Viewer.SetViewport(request.ScrollTop, request.Height)

	return context.JSON(http.StatusOK, map[string]interface{}{
		"visible":  session.Viewer.VisiblePages(),
		"prefetch": session.Viewer.PrefetchPages(),
	})
}

// UpdateZoom changes the session zoom level
// @Summary Update zoom
// @Description Zoom in, out, to a set factor, or force an immediate re-raster
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ULID"
// @Param zoom body zoomRequest true "Zoom action"
// @Success 200 {object} map[string]interface{} "Resulting zoom and scale"
// @Failure 400 {object} map[string]interface{} "Unknown action"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /session/{id}/zoom [post]
func (serverHandler *ServerHandler) UpdateZoom(context echo.Context) error {
	session, ok := serverHandler.GetSession(context.Param("id"))
	if !ok {
		return context.JSON(http.StatusNotFound, map[string]interface{}{"error": "session not found"})
	}

	var request zoomRequest
	if err := context.Bind(&request); err != nil {
		return context.JSON(http.StatusBadRequest, err)
	}

	switch request.Action {
	case "in":
		session.Viewer.ZoomIn()
	case "out":
		session.Viewer.ZoomOut()
	case "set":
		session.Viewer.SetZoom(request.Zoom)
	case "force":
		session.Viewer.ForceReraster()
	default:
		return context.JSON(http.StatusBadRequest, map[string]interface{}{"error": "unknown zoom action"})
	}

	scale := session.Viewer.Scale()
	return context.JSON(http.StatusOK, map[string]interface{}{
		"zoom":            session.Viewer.Zoom(),
		"cssZoom":         scale.CSSZoom,
		"baseRasterScale": scale.BaseRasterScale,
	})
}

// FitToWidth resets zoom so the widest page fills the container
// @Summary Fit to width
// @Description Reset zoom so the widest page fits the given container width
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ULID"
// @Param fit body fitRequest true "Container width in CSS pixels"
// @Success 200 {object} map[string]interface{} "Resulting zoom"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /session/{id}/zoom/fit [post]
func (serverHandler *ServerHandler) FitToWidth(context echo.Context) error {
	session, ok := serverHandler.GetSession(context.Param("id"))
	if !ok {
		return context.JSON(http.StatusNotFound, map[string]interface{}{"error": "session not found"})
	}

	var request fitRequest
	if err := context.Bind(&request); err != nil {
		return context.JSON(http.StatusBadRequest, err)
	}

	session.Viewer.FitToWidth(request.ContainerWidth)
	return context.JSON(http.StatusOK, map[string]interface{}{"zoom": session.Viewer.Zoom()})
}

// ExportPage renders one page at full quality and writes it to the export folder
// @Summary Export a page
// @Description Render the page at the current scale and save it as PNG under the export path
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ULID"
// @Param page path int true "Zero-based page index"
// @Success 200 {object} map[string]interface{} "Path of the exported file"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Failure 500 {object} map[string]interface{} "Render or write failed"
// @Router /session/{id}/export/{page} [post]
func (serverHandler *ServerHandler) ExportPage(context echo.Context) error {
	session, page, ok := serverHandler.sessionPage(context)
	if !ok {
		return nil
	}

	raster, err := session.Viewer.RenderOnce(context.Request().Context(), page)
	if err != nil {
		Logger.Error("Export render failed", "page", page, "error", err)
		return context.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		return context.JSON(http.StatusInternalServerError, err)
	}

	exportName := fmt.Sprintf("%s-page-%d.png", session.ULID, page+1)
	exportPath := filepath.Join(serverHandler.ServerConfig.ExportPath, exportName)
	if err := atomic.WriteFile(exportPath, &buf); err != nil {
		Logger.Error("Unable to write export", "path", exportPath, "error", err)
		return context.JSON(http.StatusInternalServerError, err)
	}

	Logger.Info("Page exported", "path", exportPath)
	return context.JSON(http.StatusOK, map[string]interface{}{"path": exportPath})
}

// DeleteSession closes a session, persisting the reading position
// @Summary Close a session
// @Description Persist the view state and release the session's render resources
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ULID"
// @Success 200 {string} string "Session Closed"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /session/{id} [delete]
func (serverHandler *ServerHandler) DeleteSession(context echo.Context) error {
	if err := serverHandler.CloseSession(context.Param("id")); err != nil {
		return context.JSON(http.StatusNotFound, map[string]interface{}{"error": err.Error()})
	}
	return context.JSON(http.StatusOK, "Session Closed")
}

// sessionPage resolves the session and page parameters common to the
// per-page routes, writing a 404 response itself when either is missing.
// A trailing .png on the page parameter is accepted so image URLs can
// carry the extension.
func (serverHandler *ServerHandler) sessionPage(context echo.Context) (*Session, int, bool) {
	session, ok := serverHandler.GetSession(context.Param("id"))
	if !ok {
		context.JSON(http.StatusNotFound, map[string]interface{}{"error": "session not found"})
		return nil, 0, false
	}

	pageParam := strings.TrimSuffix(context.Param("page"), ".png")
	page, err := strconv.Atoi(pageParam)
	if err != nil || page < 0 || page >= session.Viewer.PageCount() {
		context.JSON(http.StatusNotFound, map[string]interface{}{"error": "page out of range"})
		return nil, 0, false
	}
	return session, page, true
}
