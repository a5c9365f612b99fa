// Package tui provides the terminal trend dashboard.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - An overlaid multi-metric plot of the visible window
// - A minimap of the current page with the visible window highlighted
// - Zoom and scroll readouts
// - Per-metric window statistics
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
	colorHighlight = lipgloss.Color("#4C1D95") // Deep purple
)

// seriesColors are assigned to metrics in overlay order; the master gets
// the first.
var seriesColors = []lipgloss.Color{
	"#06B6D4", // Cyan
	"#F59E0B", // Amber
	"#10B981", // Green
	"#EC4899", // Pink
	"#3B82F6", // Blue
	"#A3E635", // Lime
	"#F97316", // Orange
	"#E5E7EB", // Light gray
}

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	boldStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	// Header style
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1)

	// Section header style
	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true)

	// Footer style
	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	axisStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Plot and Minimap Styles
// =============================================================================

var (
	gridStyle = lipgloss.NewStyle().
			Foreground(colorBorder)

	minimapStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	minimapHighlightStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Background(colorHighlight)

	progressBarStyle = lipgloss.NewStyle().
				Foreground(colorPrimary)

	progressBarEmptyStyle = lipgloss.NewStyle().
				Foreground(colorBorder)

	progressPercentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)
)

// seriesStyle returns the style for the i-th plotted metric.
func seriesStyle(i int) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(seriesColors[i%len(seriesColors)])
}

// =============================================================================
// Feed Status Indicator
// =============================================================================

// FeedStatus represents the health of the live sample feed.
type FeedStatus int

const (
	FeedStatusOK FeedStatus = iota
	FeedStatusDegraded
	FeedStatusSeverelyDegraded
)

// GetFeedStatus returns the status based on drop rate.
func GetFeedStatus(dropRate float64) FeedStatus {
	switch {
	case dropRate > 0.10: // >10% dropped
		return FeedStatusSeverelyDegraded
	case dropRate > 0.0: // Any drops
		return FeedStatusDegraded
	default:
		return FeedStatusOK
	}
}

// GetFeedLabel returns a styled label based on drop rate.
func GetFeedLabel(dropRate float64) string {
	switch GetFeedStatus(dropRate) {
	case FeedStatusSeverelyDegraded:
		return statusError.Render("● Live (severely degraded)")
	case FeedStatusDegraded:
		return statusWarning.Render("● Live (degraded)")
	default:
		return statusOK.Render("● Live")
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
