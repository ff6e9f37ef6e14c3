// Package thresholds provides threshold configuration sources for the
// alert evaluator: a static env-configured source and a Postgres-backed
// one. Resolution order in both: per-location per-field override first,
// then the global per-field default, then "not configured".
package thresholds

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Static resolves thresholds from in-memory configuration.
type Static struct {
	defaults  map[string]float64
	overrides map[string]map[string]float64 // locationId → field → threshold
}

// NewStatic creates a Static source. Either map may be nil.
func NewStatic(defaults map[string]float64, overrides map[string]map[string]float64) *Static {
	return &Static{defaults: defaults, overrides: overrides}
}

// Threshold implements alert.ThresholdSource.
func (s *Static) Threshold(_ context.Context, locationID, field string) (float64, bool, error) {
	if loc, ok := s.overrides[locationID]; ok {
		if t, ok := loc[field]; ok {
			return t, true, nil
		}
	}
	t, ok := s.defaults[field]
	return t, ok, nil
}

// ParseDefaults parses the THRESHOLD_DEFAULTS env format
// "field=value,field=value", e.g. "water_temp=30,ph=9".
func ParseDefaults(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		field, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("threshold default %q: want field=value", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("threshold default %q: %w", pair, err)
		}
		out[strings.TrimSpace(field)] = f
	}
	return out, nil
}
