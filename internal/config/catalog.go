package config

import (
	"fmt"
	"strings"

	"github.com/randomizedcoder/go-plant-trends/internal/autoscale"
)

// Metric is a catalog entry: display metadata and absolute bounds for one
// record field.
type Metric struct {
	Key   string  `yaml:"key"`
	Label string  `yaml:"label"`
	Unit  string  `yaml:"unit"`
	Color string  `yaml:"color"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`

	// ManualMin/ManualMax pin the master domain when both are set.
	ManualMin *float64 `yaml:"manual_min,omitempty"`
	ManualMax *float64 `yaml:"manual_max,omitempty"`
}

// Bounded reports whether Min < Max.
func (m Metric) Bounded() bool {
	return m.Min < m.Max
}

// Scale converts the entry into an autoscale metric.
func (m Metric) Scale() autoscale.Metric {
	am := autoscale.Metric{Key: m.Key}
	if m.Bounded() {
		am.Absolute = autoscale.Domain{Min: m.Min, Max: m.Max}
	}
	if m.ManualMin != nil && m.ManualMax != nil {
		am.Manual = autoscale.Domain{Min: *m.ManualMin, Max: *m.ManualMax}
	}
	return am
}

// DisplayName returns "Label (unit)", falling back to the key.
func (m Metric) DisplayName() string {
	name := m.Label
	if name == "" {
		name = m.Key
	}
	if m.Unit != "" {
		name += " (" + m.Unit + ")"
	}
	return name
}

// Catalog is an ordered list of known metrics.
type Catalog []Metric

// DefaultCatalog returns the built-in plant metrics.
func DefaultCatalog() Catalog {
	return Catalog{
		// Production
		{Key: "machineSpeed", Label: "Machine Speed", Unit: "m/min", Color: "#f97316", Min: 0, Max: 500},
		{Key: "dieSpeed", Label: "Die Speed", Unit: "strokes/min", Color: "#10b981", Min: 0, Max: 300},
		{Key: "machineDieCounter", Label: "Die Counter", Unit: "pcs", Color: "#3b82f6", Min: 0, Max: 1_000_000},
		{Key: "actualProduction", Label: "Actual Production", Unit: "pcs", Color: "#06b6d4", Min: 0, Max: 10_000_000},
		{Key: "productionRate", Label: "Production Rate", Unit: "pcs/min", Color: "#14b8a6", Min: 0, Max: 500},

		// Consumption
		{Key: "ethylAcetate", Label: "Ethyl Acetate", Unit: "L", Color: "#8b5cf6", Min: 0, Max: 5000},
		{Key: "ethylAlcohol", Label: "Ethyl Alcohol", Unit: "L", Color: "#ec4899", Min: 0, Max: 5000},
		{Key: "paperConsumption", Label: "Paper Consumption", Unit: "m²", Color: "#06b6d4", Min: 0, Max: 500_000},

		// OEE
		{Key: "overallOEE", Label: "OEE", Unit: "%", Color: "#22c55e", Min: 0, Max: 100},
		{Key: "availability", Label: "Availability", Unit: "%", Color: "#3b82f6", Min: 0, Max: 100},
		{Key: "performance", Label: "Performance", Unit: "%", Color: "#a855f7", Min: 0, Max: 100},
		{Key: "quality", Label: "Quality", Unit: "%", Color: "#eab308", Min: 0, Max: 100},

		// Wastage and stops
		{Key: "wastageRatio", Label: "Wastage Ratio", Unit: "%", Color: "#ef4444", Min: 0, Max: 20},
		{Key: "totalStops", Label: "Total Stops", Unit: "count", Color: "#f59e0b", Min: 0, Max: 1000},

		// Energy
		{Key: "activePowerW", Label: "Active Power", Unit: "kW", Color: "#f59e0b", Min: 0, Max: 150},
		{Key: "totalEnergyKwh", Label: "Total Energy", Unit: "kWh", Color: "#3b82f6", Min: 0, Max: 100_000},
		{Key: "voltageL1", Label: "Voltage L1", Unit: "V", Color: "#10b981", Min: 0, Max: 500},
		{Key: "currentL1", Label: "Current L1", Unit: "A", Color: "#f97316", Min: 0, Max: 200},

		// Environment
		{Key: "temperature", Label: "Temperature", Unit: "°C", Color: "#ef4444", Min: -20, Max: 80},
		{Key: "humidity", Label: "Humidity", Unit: "%", Color: "#3b82f6", Min: 0, Max: 100},
	}
}

// Lookup finds a metric by key (case-sensitive).
func (c Catalog) Lookup(key string) (Metric, bool) {
	for _, m := range c {
		if m.Key == key {
			return m, true
		}
	}
	return Metric{}, false
}

// Resolve returns catalog entries for keys, in order. Unknown keys get an
// unbounded entry labelled with the key.
func (c Catalog) Resolve(keys []string) []Metric {
	out := make([]Metric, 0, len(keys))
	for _, k := range keys {
		if m, ok := c.Lookup(k); ok {
			out = append(out, m)
			continue
		}
		out = append(out, Metric{Key: k, Label: k})
	}
	return out
}

// Merge returns c with entries from other replacing same-key entries and
// new keys appended.
func (c Catalog) Merge(other Catalog) Catalog {
	out := make(Catalog, len(c))
	copy(out, c)
	for _, m := range other {
		replaced := false
		for i := range out {
			if out[i].Key == m.Key {
				out[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, m)
		}
	}
	return out
}

// Validate checks keys are set and unique and bounds are ordered.
func (c Catalog) Validate() []error {
	var errs []error
	seen := make(map[string]bool, len(c))
	for i, m := range c {
		field := fmt.Sprintf("metrics[%d]", i)
		if strings.TrimSpace(m.Key) == "" {
			errs = append(errs, ValidationError{Field: field, Message: "key is required"})
			continue
		}
		if seen[m.Key] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate key %q", m.Key)})
		}
		seen[m.Key] = true
		if m.Max < m.Min {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("max (%v) must be >= min (%v)", m.Max, m.Min)})
		}
		if (m.ManualMin == nil) != (m.ManualMax == nil) {
			errs = append(errs, ValidationError{Field: field, Message: "manual_min and manual_max must be set together"})
		} else if m.ManualMin != nil && *m.ManualMin >= *m.ManualMax {
			errs = append(errs, ValidationError{Field: field, Message: "manual_min must be < manual_max"})
		}
	}
	return errs
}
