package viewport

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

// realClock uses time.Now() for production.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Controller owns a viewport State and applies transitions to it.
//
// A Controller is not safe for concurrent use; it belongs to the single
// context that drives the chart.
type Controller struct {
	params Params
	state  State
	clock  Clock

	// pageLimiter throttles wheel-driven page steps.
	pageLimiter *rate.Limiter

	// Coalesced wheel input, applied by Flush.
	pendingZoom int
	pendingPan  int
}

// New creates a controller over an empty dataset using the real clock.
func New(p Params) *Controller {
	return NewWithClock(p, realClock{})
}

// NewWithClock creates a controller with a custom clock for testing.
func NewWithClock(p Params, clock Clock) *Controller {
	p = p.normalized()
	c := &Controller{
		params: p,
		clock:  clock,
		state: State{
			PageSize:   p.PageSize,
			ZoomFactor: 1,
		},
	}
	c.pageLimiter = newLimiter(p.WheelThrottle)
	return c
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	return c.state
}

// Params returns the active parameters.
func (c *Controller) Params() Params {
	return c.params
}

// SetParams swaps the parameters and re-clamps the state into them.
func (c *Controller) SetParams(p Params) {
	p = p.normalized()
	if p.PageSize != c.params.PageSize {
		c.state.PageIndex = 0
		c.state.ZoomPosition = 0
	}
	if p.WheelThrottle != c.params.WheelThrottle {
		c.pageLimiter = newLimiter(p.WheelThrottle)
	}
	c.params = p
	c.state.PageSize = p.PageSize
	c.state.PageIndex = clampInt(c.state.PageIndex, 0, c.state.TotalPages()-1)
	c.state.ZoomFactor = c.snapZoom(clampFloat(c.state.ZoomFactor, 1, p.MaxZoom))
	if !c.state.Zoomed() {
		c.state.ZoomPosition = 0
	}
}

// Resolve returns the current window.
func (c *Controller) Resolve() Window {
	return Resolve(c.state, c.params)
}

// Highlight returns the minimap region (left edge and width, both 0..1)
// matching the resolved window inside the current page.
func (c *Controller) Highlight() (left, width float64) {
	ratio := WindowRatio(c.state.ZoomFactor, c.params.MinWindowRatio)
	if !c.state.Zoomed() {
		return 0, 1
	}
	return c.state.ZoomPosition * (1 - ratio), ratio
}

// DatasetReplaced resets the viewport for a dataset of length n.
func (c *Controller) DatasetReplaced(n int) {
	c.state = State{
		FullLength: max(0, n),
		PageSize:   c.params.PageSize,
		ZoomFactor: 1,
	}
	c.pendingZoom = 0
	c.pendingPan = 0
}

// PageStep moves by delta pages (positive is older). Zoom is kept and the
// position returns to the page start. Reports whether the state changed.
func (c *Controller) PageStep(delta int) bool {
	if c.state.Dragging || delta == 0 {
		return false
	}
	next := clampInt(c.state.PageIndex+delta, 0, c.state.TotalPages()-1)
	if next == c.state.PageIndex {
		return false
	}
	c.state.PageIndex = next
	c.state.ZoomPosition = 0
	return true
}

// ZoomStep zooms in (positive) or out (negative) by steps*ZoomStep.
func (c *Controller) ZoomStep(steps int) bool {
	if c.state.Dragging || steps == 0 {
		return false
	}
	z := c.state.ZoomFactor + float64(steps)*c.params.ZoomStep
	z = c.snapZoom(clampFloat(z, 1, c.params.MaxZoom))
	if z == c.state.ZoomFactor {
		return false
	}
	c.state.ZoomFactor = z
	if !c.state.Zoomed() {
		c.state.ZoomPosition = 0
	}
	return true
}

// PanStep moves the zoomed window by steps*PanStep. No-op at zoom 1.
func (c *Controller) PanStep(steps int) bool {
	if c.state.Dragging || steps == 0 || !c.state.Zoomed() {
		return false
	}
	p := c.state.ZoomPosition + float64(steps)*c.params.PanStep
	p = math.Round(clampFloat(p, 0, 1)*1000) / 1000
	if p == c.state.ZoomPosition {
		return false
	}
	c.state.ZoomPosition = p
	return true
}

// BeginDrag starts a minimap drag at normalized x. Dragging is only
// possible while zoomed; the zoom-1 window already covers the page.
func (c *Controller) BeginDrag(x float64) bool {
	if c.state.Dragging || !c.state.Zoomed() {
		return false
	}
	c.state.Dragging = true
	c.pendingZoom = 0
	c.pendingPan = 0
	c.setDragPosition(x)
	return true
}

// DragTo moves an active drag to normalized x.
func (c *Controller) DragTo(x float64) bool {
	if !c.state.Dragging {
		return false
	}
	return c.setDragPosition(x)
}

// EndDrag releases an active drag.
func (c *Controller) EndDrag() bool {
	if !c.state.Dragging {
		return false
	}
	c.state.Dragging = false
	return true
}

func (c *Controller) setDragPosition(x float64) bool {
	ratio := WindowRatio(c.state.ZoomFactor, c.params.MinWindowRatio)
	p := DragPosition(clampFloat(x, 0, 1), ratio)
	if p == c.state.ZoomPosition {
		return false
	}
	c.state.ZoomPosition = p
	return true
}

// snapZoom rounds z onto the zoom grid without accumulating float error.
func (c *Controller) snapZoom(z float64) float64 {
	inv := 1 / c.params.ZoomGrid
	if r := math.Round(inv); math.Abs(inv-r) < 1e-9 {
		return math.Round(z*r) / r
	}
	return math.Round(z/c.params.ZoomGrid) * c.params.ZoomGrid
}
