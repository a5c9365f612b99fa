package viewport

// WheelEvent is one wheel notch or trackpad scroll.
type WheelEvent struct {
	// DeltaY is positive when scrolling down.
	DeltaY float64

	// Precision is set when the zoom modifier (Ctrl/Cmd) is held.
	Precision bool
}

// WheelAction is what a wheel event did.
type WheelAction int

const (
	WheelIgnored WheelAction = iota
	WheelThrottled
	WheelPaged
	WheelQueued
)

func (a WheelAction) String() string {
	switch a {
	case WheelIgnored:
		return "ignored"
	case WheelThrottled:
		return "throttled"
	case WheelPaged:
		return "paged"
	case WheelQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// Wheel routes a wheel event.
//
// With the precision modifier it zooms (scrolling down zooms in). Without it,
// it pans while zoomed and pages at zoom 1. Page steps are throttled to one
// per WheelThrottle; zoom and pan deltas are queued and applied by Flush so
// several events in one frame cost one recompute.
func (c *Controller) Wheel(ev WheelEvent) WheelAction {
	if c.state.Dragging || ev.DeltaY == 0 {
		return WheelIgnored
	}
	dir := 1
	if ev.DeltaY < 0 {
		dir = -1
	}

	switch {
	case ev.Precision:
		c.pendingZoom += dir
		return WheelQueued
	case c.state.Zoomed():
		c.pendingPan += dir
		return WheelQueued
	}

	if !c.pageLimiter.AllowN(c.clock.Now(), 1) {
		return WheelThrottled
	}
	if c.PageStep(dir) {
		return WheelPaged
	}
	return WheelIgnored
}

// Pending reports whether Flush has queued wheel input to apply.
func (c *Controller) Pending() bool {
	return c.pendingZoom != 0 || c.pendingPan != 0
}

// Flush applies queued zoom then pan input. Reports whether the state changed.
func (c *Controller) Flush() bool {
	zoom, pan := c.pendingZoom, c.pendingPan
	c.pendingZoom = 0
	c.pendingPan = 0

	changed := false
	if zoom != 0 && c.ZoomStep(zoom) {
		changed = true
	}
	if pan != 0 && c.PanStep(pan) {
		changed = true
	}
	return changed
}
