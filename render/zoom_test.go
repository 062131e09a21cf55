package render

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zoomRecorder struct {
	mu    sync.Mutex
	fires []Scale
}

func (r *zoomRecorder) record(s Scale) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fires = append(r.fires, s)
}

func (r *zoomRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func (r *zoomRecorder) last() Scale {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fires[len(r.fires)-1]
}

func newTestZoom(dpr float64) (*ZoomManager, *zoomRecorder) {
	rec := &zoomRecorder{}
	z := NewZoomManager(dpr, rec.record)
	z.SetDebounce(5 * time.Millisecond)
	return z, rec
}

func settleZoom() { time.Sleep(40 * time.Millisecond) }

func TestZoomBelowDeltaNeverFires(t *testing.T) {
	z, rec := newTestZoom(1)
	z.SetZoom(1.1) // 0.1 < default delta 0.4
	settleZoom()
	assert.Equal(t, 0, rec.count(), "zoom within the delta must not re-rasterize")
	assert.Equal(t, 1.1, z.Zoom(), "the transient transform still applies")
}

func TestZoomPastDeltaFiresOnceAndFolds(t *testing.T) {
	z, rec := newTestZoom(1)
	z.SetZoom(1.6)
	settleZoom()

	require.Equal(t, 1, rec.count(), "a settled gesture fires exactly one re-rasterization")
	fired := rec.last()
	assert.InDelta(t, 1.6, fired.BaseRasterScale, 1e-9, "zoom magnitude folds into the base raster scale")
	assert.Equal(t, 1.0, fired.CSSZoom, "cssZoom resets to 1.0 after the fold")
	assert.Equal(t, 1.0, z.Zoom())
}

func TestZoomDebounceCoalescesGesture(t *testing.T) {
	z, rec := newTestZoom(1)
	// A continuous pinch: every tick restarts the quiet period.
	for _, step := range []float64{1.5, 1.7, 1.9, 2.0} {
		z.SetZoom(step)
		time.Sleep(time.Millisecond)
	}
	settleZoom()

	require.Equal(t, 1, rec.count(), "one gesture, one fold")
	assert.InDelta(t, 2.0, rec.last().BaseRasterScale, 1e-9, "only the final magnitude folds")
}

func TestZoomFoldHappensExactlyOncePerGesture(t *testing.T) {
	z, rec := newTestZoom(1)
	z.SetZoom(2.0)
	settleZoom()
	z.SetZoom(2.0)
	settleZoom()

	require.Equal(t, 2, rec.count())
	assert.InDelta(t, 4.0, rec.last().BaseRasterScale, 1e-9, "successive gestures compound through the base scale, never double-fold")
	assert.Equal(t, 1.0, z.Zoom())
}

func TestForceRerasterSkipsDebounce(t *testing.T) {
	z, rec := newTestZoom(1)
	z.SetDebounce(time.Hour) // debounce would never fire on its own
	z.SetZoom(1.2)           // below delta, no timer pending either
	z.ForceReraster()

	require.Equal(t, 1, rec.count(), "force fires whenever cssZoom differs from 1.0")
	assert.InDelta(t, 1.2, rec.last().BaseRasterScale, 1e-9)
}

func TestForceRerasterAtUnityIsNoop(t *testing.T) {
	z, rec := newTestZoom(1)
	z.ForceReraster()
	assert.Equal(t, 0, rec.count())
}

func TestZoomInOutAreMultiplicative(t *testing.T) {
	z, _ := newTestZoom(1)
	z.SetDebounce(time.Hour)
	z.ZoomIn()
	assert.InDelta(t, 1.2, z.Zoom(), 1e-9)
	z.ZoomIn()
	assert.InDelta(t, 1.44, z.Zoom(), 1e-9)
	z.ZoomOut()
	assert.InDelta(t, 1.2, z.Zoom(), 1e-9)
}

func TestBaseRasterScaleClampsDevicePixelRatio(t *testing.T) {
	z, _ := newTestZoom(4)
	assert.Equal(t, 3.0, z.Scale().BaseRasterScale, "DPR clamps to 3")

	low, _ := newTestZoom(0.5)
	assert.Equal(t, 1.0, low.Scale().BaseRasterScale, "DPR clamps to 1")
}

func TestRestoreScaleReinstatesPersistedBase(t *testing.T) {
	z, _ := newTestZoom(1)
	z.RestoreScale(2.5)
	assert.InDelta(t, 2.5, z.Scale().BaseRasterScale, 1e-9)
	assert.InDelta(t, 2.5, z.Scale().Effective(), 1e-9, "a restored scale renders sharp before any new gesture")

	z.RestoreScale(0)
	assert.InDelta(t, 2.5, z.Scale().BaseRasterScale, 1e-9, "non-positive values are ignored")
}

func TestResetToFitNeverCompounds(t *testing.T) {
	z, rec := newTestZoom(2)

	// Fold some zoom in first so there is history to compound against.
	z.SetZoom(2.0)
	settleZoom()
	require.InDelta(t, 4.0, rec.last().BaseRasterScale, 1e-9)

	// Fitting a 500pt page into 1032px yields zoom 2.0 after padding.
	z.ResetToFit(500, 1032)
	settleZoom()
	first := rec.last().BaseRasterScale

	z.ResetToFit(500, 1032)
	settleZoom()
	second := rec.last().BaseRasterScale

	assert.InDelta(t, first, second, 1e-9, "repeated fit actions must not compound earlier folds")
	assert.InDelta(t, 4.0, first, 1e-9, "fit scale builds on the DPR baseline, not the folded history")
}
