package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-plant-trends/internal/downsample"
	"github.com/randomizedcoder/go-plant-trends/internal/smooth"
	"github.com/randomizedcoder/go-plant-trends/internal/timeseries"
	"github.com/randomizedcoder/go-plant-trends/internal/viewport"
)

// Preset names.
const (
	ProfileDefault = "default"
	ProfileHighRes = "high-res"
	ProfileLive    = "live"
)

// ErrUnknownProfile is returned for a profile name that is neither a preset
// nor defined in the profile file.
var ErrUnknownProfile = errors.New("unknown profile")

// Profile bundles the tunables of one chart.
type Profile struct {
	Name string `yaml:"name"`

	// Downsampling
	TargetPointCount        int                `yaml:"target_point_count"`
	ChangeThresholdPercent  float64            `yaml:"change_threshold_percent"`
	ChannelChangeThresholds map[string]float64 `yaml:"channel_change_thresholds"` // percent, per channel
	DensityStride           int                `yaml:"density_stride"`            // 0 = off
	DensityMinLength        int                `yaml:"density_min_length"`
	MarkerReserve           float64            `yaml:"marker_reserve"`
	OverviewPoints          int                `yaml:"overview_points"`

	// Viewport
	PageSize        int           `yaml:"page_size"`
	MinWindowRatio  float64       `yaml:"min_window_ratio"`
	MinWindowPoints int           `yaml:"min_window_points"`
	ZoomStepSize    float64       `yaml:"zoom_step_size"`
	MaxZoomFactor   float64       `yaml:"max_zoom_factor"`
	PanStepSize     float64       `yaml:"pan_step_size"`
	WheelThrottle   time.Duration `yaml:"wheel_throttle"`

	// Smoothing
	SmoothingWindowWidth      int                `yaml:"smoothing_window_width"`
	SmoothingAnomalyThreshold float64            `yaml:"smoothing_anomaly_threshold"`
	SmoothingThresholds       map[string]float64 `yaml:"smoothing_thresholds"`
	SmoothingBlend            float64            `yaml:"smoothing_blend"`

	// Live mode
	RingBufferCapacity int `yaml:"ring_buffer_capacity"`
	LiveVisiblePoints  int `yaml:"live_visible_points"`
}

// DefaultProfile returns week-paged history with an 8% change threshold.
func DefaultProfile() Profile {
	return Profile{
		Name: ProfileDefault,

		TargetPointCount:       downsample.DefaultTargetPoints,
		ChangeThresholdPercent: downsample.DefaultChangeThreshold * 100,
		DensityStride:          0,
		DensityMinLength:       downsample.DefaultDensityMinLength,
		MarkerReserve:          downsample.DefaultMarkerReserve,
		OverviewPoints:         200,

		PageSize:        viewport.DefaultPageSize,
		MinWindowRatio:  viewport.DefaultMinWindowRatio,
		MinWindowPoints: viewport.DefaultMinWindowPoints,
		ZoomStepSize:    viewport.DefaultZoomStep,
		MaxZoomFactor:   viewport.DefaultMaxZoom,
		PanStepSize:     viewport.DefaultPanStep,
		WheelThrottle:   viewport.DefaultWheelThrottle,

		SmoothingWindowWidth:      smooth.DefaultWidth,
		SmoothingAnomalyThreshold: smooth.DefaultThreshold,
		SmoothingThresholds: map[string]float64{
			"temperature": 3,
			"humidity":    7,
		},
		SmoothingBlend: smooth.DefaultBlend,

		RingBufferCapacity: timeseries.DefaultCapacity,
		LiveVisiblePoints:  timeseries.DefaultVisible,
	}
}

// HighResProfile lowers the change threshold to 5% and re-scans every
// 5th sample for short ranges.
func HighResProfile() Profile {
	p := DefaultProfile()
	p.Name = ProfileHighRes
	p.ChangeThresholdPercent = 5
	p.DensityStride = 5
	return p
}

// LiveProfile tunes for the 1/second streaming path.
func LiveProfile() Profile {
	p := DefaultProfile()
	p.Name = ProfileLive
	p.TargetPointCount = 1000
	p.PageSize = timeseries.DefaultCapacity
	p.MinWindowPoints = 10
	return p
}

// Presets returns the built-in profiles by name.
func Presets() map[string]Profile {
	return map[string]Profile{
		ProfileDefault: DefaultProfile(),
		ProfileHighRes: HighResProfile(),
		ProfileLive:    LiveProfile(),
	}
}

// PresetNames returns the sorted preset names.
func PresetNames() []string {
	names := make([]string, 0, 3)
	for n := range Presets() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupPreset returns a built-in profile.
func LookupPreset(name string) (Profile, error) {
	p, ok := Presets()[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// =============================================================================
// Engine options
// =============================================================================

// DownsampleOptions converts the profile for the downsampler.
func (p Profile) DownsampleOptions(channels []string) downsample.Options {
	var per map[string]float64
	if len(p.ChannelChangeThresholds) > 0 {
		per = make(map[string]float64, len(p.ChannelChangeThresholds))
		for k, v := range p.ChannelChangeThresholds {
			per[k] = v / 100
		}
	}
	return downsample.Options{
		TargetPoints:      p.TargetPointCount,
		ChangeThreshold:   p.ChangeThresholdPercent / 100,
		ChannelThresholds: per,
		Channels:          channels,
		DensityStride:     p.DensityStride,
		DensityMinLength:  p.DensityMinLength,
		MarkerReserve:     p.MarkerReserve,
	}
}

// OverviewOptions converts the profile for the minimap reduction.
func (p Profile) OverviewOptions(channels []string) downsample.Options {
	o := p.DownsampleOptions(channels)
	o.TargetPoints = p.OverviewPoints
	o.DensityStride = 0
	return o
}

// ViewportParams converts the profile for the window controller.
func (p Profile) ViewportParams() viewport.Params {
	return viewport.Params{
		PageSize:        p.PageSize,
		MinWindowRatio:  p.MinWindowRatio,
		MinWindowPoints: p.MinWindowPoints,
		ZoomStep:        p.ZoomStepSize,
		ZoomGrid:        viewport.DefaultZoomGrid,
		MaxZoom:         p.MaxZoomFactor,
		PanStep:         p.PanStepSize,
		WheelThrottle:   p.WheelThrottle,
	}
}

// SmoothOptions converts the profile for the smoother.
func (p Profile) SmoothOptions() smooth.Options {
	return smooth.Options{
		Width:            p.SmoothingWindowWidth,
		Blend:            p.SmoothingBlend,
		DefaultThreshold: p.SmoothingAnomalyThreshold,
		Thresholds:       p.SmoothingThresholds,
	}
}

// Validate checks the profile for errors.
func (p Profile) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: "profile." + field, Message: msg})
	}

	if p.TargetPointCount < 1 {
		add("target_point_count", "must be at least 1")
	}
	if p.ChangeThresholdPercent <= 0 || p.ChangeThresholdPercent > 100 {
		add("change_threshold_percent", fmt.Sprintf("must be in (0, 100] (got %v)", p.ChangeThresholdPercent))
	}
	for k, v := range p.ChannelChangeThresholds {
		if v <= 0 || v > 100 {
			add("channel_change_thresholds."+k, fmt.Sprintf("must be in (0, 100] (got %v)", v))
		}
	}
	if p.DensityStride < 0 {
		add("density_stride", "must be >= 0")
	}
	if p.MarkerReserve < 0 || p.MarkerReserve >= 1 {
		add("marker_reserve", fmt.Sprintf("must be in [0, 1) (got %v)", p.MarkerReserve))
	}
	if p.OverviewPoints < 2 {
		add("overview_points", "must be at least 2")
	}
	if p.PageSize < 1 {
		add("page_size", "must be at least 1")
	}
	if p.MinWindowRatio <= 0 || p.MinWindowRatio > 1 {
		add("min_window_ratio", fmt.Sprintf("must be in (0, 1] (got %v)", p.MinWindowRatio))
	}
	if p.MinWindowPoints < 1 {
		add("min_window_points", "must be at least 1")
	}
	if p.ZoomStepSize <= 0 {
		add("zoom_step_size", "must be positive")
	}
	if p.MaxZoomFactor < 1 {
		add("max_zoom_factor", "must be >= 1")
	}
	if p.PanStepSize <= 0 || p.PanStepSize > 1 {
		add("pan_step_size", fmt.Sprintf("must be in (0, 1] (got %v)", p.PanStepSize))
	}
	if p.WheelThrottle < 0 {
		add("wheel_throttle", "must be >= 0")
	}
	if p.SmoothingWindowWidth < 1 {
		add("smoothing_window_width", "must be at least 1")
	}
	if p.SmoothingAnomalyThreshold < 0 {
		add("smoothing_anomaly_threshold", "must be >= 0")
	}
	if p.SmoothingBlend < 0 || p.SmoothingBlend > 1 {
		add("smoothing_blend", fmt.Sprintf("must be in [0, 1] (got %v)", p.SmoothingBlend))
	}
	if p.RingBufferCapacity < 1 {
		add("ring_buffer_capacity", "must be at least 1")
	}
	if p.LiveVisiblePoints < 1 || p.LiveVisiblePoints > p.RingBufferCapacity {
		add("live_visible_points", fmt.Sprintf("must be in [1, ring_buffer_capacity] (got %d)", p.LiveVisiblePoints))
	}

	return errors.Join(errs...)
}

// =============================================================================
// Profile file
// =============================================================================

// ProfileFile is the YAML document loaded by -profile-file.
//
//	profiles:
//	  plant-a:
//	    base: high-res
//	    target_point_count: 5000
//	metrics:
//	  - key: machineSpeed
//	    label: Machine Speed
//	    min: 0
//	    max: 500
type ProfileFile struct {
	Profiles map[string]Profile
	Metrics  Catalog
}

type rawProfileFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
	Metrics  Catalog              `yaml:"metrics"`
}

// LoadProfileFile reads and parses a profile file.
func LoadProfileFile(path string) (*ProfileFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	pf, err := ParseProfileFile(data)
	if err != nil {
		return nil, fmt.Errorf("parse profile file %s: %w", path, err)
	}
	return pf, nil
}

// ParseProfileFile parses profile YAML. Each profile starts from its base
// preset (default when omitted) and overrides only the fields it sets.
func ParseProfileFile(data []byte) (*ProfileFile, error) {
	var raw rawProfileFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	pf := &ProfileFile{
		Profiles: make(map[string]Profile, len(raw.Profiles)),
		Metrics:  raw.Metrics,
	}
	for name, node := range raw.Profiles {
		var head struct {
			Base string `yaml:"base"`
		}
		if err := node.Decode(&head); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		if head.Base == "" {
			head.Base = ProfileDefault
		}
		p, err := LookupPreset(head.Base)
		if err != nil {
			return nil, fmt.Errorf("profile %q base: %w", name, err)
		}
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		p.Name = name
		pf.Profiles[name] = p
	}
	return pf, nil
}

// Lookup returns a profile from the file, falling back to presets.
func (pf *ProfileFile) Lookup(name string) (Profile, error) {
	if pf != nil {
		if p, ok := pf.Profiles[name]; ok {
			return p, nil
		}
	}
	return LookupPreset(name)
}
