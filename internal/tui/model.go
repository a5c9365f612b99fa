package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-plant-trends/internal/config"
	"github.com/randomizedcoder/go-plant-trends/internal/engine"
	"github.com/randomizedcoder/go-plant-trends/internal/feed"
	"github.com/randomizedcoder/go-plant-trends/internal/source"
	"github.com/randomizedcoder/go-plant-trends/internal/viewport"
)

// tickInterval is the render cadence. Queued wheel input and live samples
// are applied on each tick.
const tickInterval = 200 * time.Millisecond

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// FetchResultMsg carries a completed history fetch.
type FetchResultMsg struct {
	Token engine.Token
	Body  []byte
	Err   error
}

// RetryMsg asks for a refetch after a backoff delay. It is ignored when a
// newer fetch has been issued since.
type RetryMsg struct {
	After engine.Token
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state. The chart is only touched from Update,
// so it needs no locking.
type Model struct {
	// Configuration
	chart        *engine.Chart
	fetcher      source.Fetcher
	historyRange time.Duration
	backoff      *source.Backoff
	startLive    func() *feed.Feed
	stopLive     func()
	profiles     []config.Profile
	labels       map[string]string
	sourceName   string
	metricsAddr  string
	onTick       func(now time.Time)
	onLoaded     func()

	// Current state
	frame      engine.Frame
	liveFeed   *feed.Feed
	startTime  time.Time
	lastUpdate time.Time
	showStats  bool
	dragging   bool
	status     string

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Chart        *engine.Chart
	Fetcher      source.Fetcher // nil disables history fetches
	HistoryRange time.Duration
	Backoff      *source.Backoff // nil disables automatic retries

	// StartLive starts the live source and returns its feed; StopLive stops
	// it. Both nil disables the live toggle.
	StartLive func() *feed.Feed
	StopLive  func()

	// LiveFeed is the feed already attached when the chart starts in live
	// mode.
	LiveFeed *feed.Feed

	// Profiles are cycled with "p". The chart's current profile need not
	// be among them.
	Profiles []config.Profile

	// Labels maps metric keys to display names.
	Labels map[string]string

	SourceName  string
	MetricsAddr string

	// OnTick runs on every render tick after the chart has been ticked.
	OnTick func(now time.Time)

	// OnHistoryLoaded runs after each applied history fetch.
	OnHistoryLoaded func()
}

// New creates a new TUI model.
func New(cfg Config) Model {
	now := time.Now()
	m := Model{
		chart:        cfg.Chart,
		fetcher:      cfg.Fetcher,
		historyRange: cfg.HistoryRange,
		backoff:      cfg.Backoff,
		startLive:    cfg.StartLive,
		stopLive:     cfg.StopLive,
		profiles:     cfg.Profiles,
		labels:       cfg.Labels,
		sourceName:   cfg.SourceName,
		metricsAddr:  cfg.MetricsAddr,
		onTick:       cfg.OnTick,
		onLoaded:     cfg.OnHistoryLoaded,
		liveFeed:     cfg.LiveFeed,
		startTime:    now,
		lastUpdate:   now,
		showStats:    true,
		width:        80,
		height:       24,
	}
	if m.chart != nil {
		m.frame = m.chart.Frame()
	}
	return m
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init starts the render ticker and, in history mode, the first fetch.
func (m Model) Init() tea.Cmd {
	if m.chart.Mode() == engine.ModeHistory {
		return tea.Batch(tickCmd(), m.fetchCmd())
	}
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg), nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		now := time.Time(msg)
		if m.chart.Tick(now) {
			m.frame = m.chart.Frame()
		}
		if m.onTick != nil {
			m.onTick(now)
		}
		m.lastUpdate = now
		return m, tickCmd()

	case FetchResultMsg:
		return m.handleFetch(msg)

	case RetryMsg:
		if m.chart.Mode() != engine.ModeHistory || m.chart.Token() != msg.After {
			return m, nil
		}
		return m, m.fetchCmd()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Input
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	c := m.chart
	changed := false

	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "left", "h":
		changed = c.PageStep(1)
	case "right", "l":
		changed = c.PageStep(-1)
	case "+", "=":
		changed = c.ZoomStep(1)
	case "-", "_":
		changed = c.ZoomStep(-1)
	case "[":
		changed = c.PanStep(-1)
	case "]":
		changed = c.PanStep(1)
	case "0":
		changed = c.SetZoom(1)
	case "s":
		m.showStats = !m.showStats
		return m, nil
	case "p":
		m.cycleProfile()
		m.frame = c.Frame()
		return m, nil
	case "L":
		cmd := m.toggleLive()
		m.frame = c.Frame()
		return m, cmd
	case "r":
		if c.Mode() == engine.ModeHistory {
			return m, m.fetchCmd()
		}
		return m, nil
	}

	if changed {
		m.frame = c.Frame()
	}
	return m, nil
}

func (m Model) handleMouse(msg tea.MouseMsg) Model {
	c := m.chart
	layout := m.layout()

	switch msg.Button {
	case tea.MouseButtonWheelUp, tea.MouseButtonWheelDown:
		if msg.Action != tea.MouseActionPress {
			return m
		}
		dy := -1.0
		if msg.Button == tea.MouseButtonWheelDown {
			dy = 1
		}
		if c.Wheel(viewport.WheelEvent{DeltaY: dy, Precision: msg.Ctrl}) == viewport.WheelPaged {
			m.frame = c.Frame()
		}
		return m
	}

	x := layout.plotX(msg.X)
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button == tea.MouseButtonLeft && msg.Y == layout.minimapRow && c.BeginDrag(x) {
			m.dragging = true
			m.frame = c.Frame()
		}
	case tea.MouseActionMotion:
		if m.dragging && c.DragTo(x) {
			m.frame = c.Frame()
		}
	case tea.MouseActionRelease:
		if m.dragging {
			m.dragging = false
			c.EndDrag()
			m.frame = c.Frame()
		}
	}
	return m
}

func (m *Model) cycleProfile() {
	if len(m.profiles) == 0 {
		return
	}
	current := m.chart.Profile().Name
	next := m.profiles[0]
	for i, p := range m.profiles {
		if p.Name == current {
			next = m.profiles[(i+1)%len(m.profiles)]
			break
		}
	}
	if err := m.chart.UpdateProfile(next); err != nil {
		m.status = fmt.Sprintf("profile %s: %v", next.Name, err)
		return
	}
	m.status = "profile " + next.Name
}

func (m *Model) toggleLive() tea.Cmd {
	if m.startLive == nil {
		m.status = "no live source configured"
		return nil
	}
	if m.chart.Mode() == engine.ModeLive {
		if m.stopLive != nil {
			m.stopLive()
		}
		m.chart.ExitLive()
		m.liveFeed = nil
		m.status = "history"
		return m.fetchCmd()
	}
	m.liveFeed = m.startLive()
	m.chart.EnterLive(m.liveFeed)
	m.status = "live"
	return nil
}

// =============================================================================
// Fetching
// =============================================================================

// fetchCmd issues a token and fetches history in the background. The
// chart is not touched off the Update goroutine.
func (m Model) fetchCmd() tea.Cmd {
	if m.fetcher == nil {
		return nil
	}
	tok := m.chart.BeginFetch()
	fetcher := m.fetcher
	r := source.RangeFor(time.Now(), m.historyRange, m.chart.Profile().TargetPointCount)
	return func() tea.Msg {
		body, err := fetcher.Fetch(context.Background(), r)
		return FetchResultMsg{Token: tok, Body: body, Err: err}
	}
}

func (m Model) handleFetch(msg FetchResultMsg) (tea.Model, tea.Cmd) {
	c := m.chart
	if msg.Err != nil {
		retryable := source.IsRetryable(msg.Err)
		if err := c.FetchFailed(msg.Token, &engine.FetchError{Err: msg.Err, Retryable: retryable}); err != nil {
			return m, nil // stale
		}
		m.frame = c.Frame()
		if !retryable || m.backoff == nil {
			return m, nil
		}
		delay, ok := m.backoff.Next()
		if !ok {
			m.status = fmt.Sprintf("giving up after %d retries", m.backoff.Attempts())
			m.backoff.Reset()
			return m, nil
		}
		m.status = fmt.Sprintf("retry %d in %s", m.backoff.Attempts(), delay.Round(time.Millisecond))
		after := msg.Token
		return m, tea.Tick(delay, func(time.Time) tea.Msg {
			return RetryMsg{After: after}
		})
	}

	if err := c.ApplyFetchJSON(msg.Token, msg.Body); err != nil {
		m.frame = c.Frame()
		return m, nil
	}
	if m.backoff != nil {
		m.backoff.Reset()
	}
	if m.onLoaded != nil {
		m.onLoaded()
	}
	m.status = ""
	m.frame = c.Frame()
	return m, nil
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after tickInterval.
func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Frame returns the frame the view renders.
func (m Model) Frame() engine.Frame {
	return m.frame
}

// Status returns the transient status line.
func (m Model) Status() string {
	return m.status
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatValue formats a metric value compactly for axis labels and the
// stats table.
func formatValue(v float64) string {
	a := v
	if a < 0 {
		a = -a
	}
	switch {
	case a >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case a >= 10_000:
		return fmt.Sprintf("%.1fK", v/1_000)
	case a >= 100:
		return fmt.Sprintf("%.0f", v)
	case a >= 1:
		return fmt.Sprintf("%.1f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatPercent formats a 0..100 percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.0f%%", value)
}
