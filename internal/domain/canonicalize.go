package domain

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// timestampAliases is the priority order for locating the timestamp column.
// The first alias present in the record wins; later aliases are only tried
// when earlier ones are absent or unparseable.
var timestampAliases = []string{
	"timestamp",
	"timestamp_iso",
	"time",
	"datetime",
	"created_at",
	"cached_at",
	"tanggal",
}

// noMeasurementSentinels are upstream spellings of "this sensor did not
// measure". All coerce to nil.
var noMeasurementSentinels = map[string]struct{}{
	"":               {},
	"-":              {},
	"--":             {},
	"n/a":            {},
	"na":             {},
	"null":           {},
	"not measured":   {},
	"tidak mengukur": {},
	"tidak_mengukur": {},
}

// gvizDateRe matches the Google Visualization textual date encoding
// "Date(2025,7,14,23,59,5)". The month is zero-based.
var gvizDateRe = regexp.MustCompile(`^Date\((\d+),(\d+),(\d+)(?:,(\d+),(\d+),(\d+))?(?:,\d+)?\)$`)

// minFallbackKeyLen gates the substring alias fallback: candidates shorter
// than this ("ec", "do", "ph") never fallback-match, only exact-match.
// Two-letter keys are substrings of far too many unrelated labels.
const minFallbackKeyLen = 3

// Canonicalizer converts raw label→value records into canonical readings
// using the static catalog.
type Canonicalizer struct {
	logger *slog.Logger

	// aliasFallback enables the legacy substring matching used when no
	// exact normalized alias matches. Resilient to upstream header drift,
	// but a heuristic: it can mis-map when alias vocabularies overlap.
	aliasFallback bool
}

// NewCanonicalizer creates a Canonicalizer. aliasFallback toggles the
// legacy substring alias resolution; exact normalized matching is always on.
func NewCanonicalizer(logger *slog.Logger, aliasFallback bool) *Canonicalizer {
	return &Canonicalizer{logger: logger, aliasFallback: aliasFallback}
}

// Canonicalize maps one raw record onto the canonical schema. Every catalog
// category appears in the output even when all of its fields are nil.
// Missing fields are never an error; only a nil record is rejected.
func (c *Canonicalizer) Canonicalize(raw RawRecord, locationID string) (CanonicalReading, error) {
	if raw == nil {
		return CanonicalReading{}, fmt.Errorf("canonicalize %q: %w", locationID, ErrInvalidRecord)
	}

	rawKeys := make([]string, 0, len(raw))
	for k := range raw {
		rawKeys = append(rawKeys, k)
	}
	sort.Strings(rawKeys)

	// When two raw labels normalize to the same key, the lexicographically
	// first label wins; map iteration order must never pick the winner.
	flat := make(map[string]any, len(raw))
	for _, k := range rawKeys {
		nk := NormalizeKey(k)
		if _, taken := flat[nk]; taken {
			continue
		}
		flat[nk] = raw[k]
	}
	// Deterministic key order so the substring fallback always picks the
	// same raw key for the same record.
	flatKeys := make([]string, 0, len(flat))
	for k := range flat {
		flatKeys = append(flatKeys, k)
	}
	sort.Strings(flatKeys)

	reading := CanonicalReading{
		LocationID: locationID,
		Categories: make(map[Category]map[string]any, len(Categories())),
	}

	for _, alias := range timestampAliases {
		v, ok := flat[alias]
		if !ok {
			continue
		}
		if reading.TimestampLabel == "" {
			reading.TimestampLabel = strings.TrimSpace(fmt.Sprint(v))
		}
		if ts := ParseTimestamp(v); ts != nil {
			reading.Timestamp = ts
			break
		}
	}

	if v, ok := c.resolve(flat, flatKeys, latitudeField); ok {
		if f, ok := coerceValue(v).(float64); ok {
			reading.Latitude = &f
		}
	}
	if v, ok := c.resolve(flat, flatKeys, longitudeField); ok {
		if f, ok := coerceValue(v).(float64); ok {
			reading.Longitude = &f
		}
	}

	for _, cat := range Categories() {
		fields := FieldsFor(cat)
		values := make(map[string]any, len(fields))
		for _, f := range fields {
			rv, ok := c.resolve(flat, flatKeys, f)
			if !ok {
				values[f.Key] = nil
				continue
			}
			values[f.Key] = coerceValue(rv)
		}
		reading.Categories[cat] = values
	}

	return reading, nil
}

// resolve finds the raw value for a field: exact normalized alias match
// first, then (when enabled) the first flat key containing or contained by
// a candidate alias.
func (c *Canonicalizer) resolve(flat map[string]any, flatKeys []string, f Field) (any, bool) {
	candidates := f.normalizedAliases()
	for _, key := range candidates {
		if v, ok := flat[key]; ok {
			return v, true
		}
	}
	if !c.aliasFallback {
		return nil, false
	}
	for _, cand := range candidates {
		if len(cand) < minFallbackKeyLen {
			continue
		}
		for _, fk := range flatKeys {
			if len(fk) < minFallbackKeyLen {
				continue
			}
			if strings.Contains(fk, cand) || strings.Contains(cand, fk) {
				c.logger.Debug("alias fallback match",
					"field", f.Key, "alias", cand, "raw_key", fk)
				return flat[fk], true
			}
		}
	}
	return nil, false
}

// coerceValue applies the value conventions: numbers stay numbers,
// no-measurement sentinels become nil, numeric-looking strings are parsed
// after locale cleanup, everything else is kept as the trimmed original.
func coerceValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		s := strings.TrimSpace(x)
		if _, ok := noMeasurementSentinels[strings.ToLower(s)]; ok {
			return nil
		}
		if f, ok := parseLocaleNumber(s); ok {
			return f
		}
		return s
	default:
		return v
	}
}

// parseLocaleNumber parses a numeric string tolerating both separator
// conventions: "1,234.5" (comma as thousands) and "29,5" (decimal comma).
func parseLocaleNumber(s string) (float64, bool) {
	n := s
	if strings.Contains(n, ",") {
		if strings.Contains(n, ".") {
			n = strings.ReplaceAll(n, ",", "")
		} else {
			n = strings.Replace(n, ",", ".", 1)
		}
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// timestampLayouts are tried in order for string timestamps. The slash
// layouts cover the sheet export's "8/14/2025 23:59:05" form.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"2006-01-02",
}

// ParseTimestamp parses a timestamp value best-effort. Supported encodings:
// RFC 3339 variants, "M/D/YYYY H:MM:SS", bare dates, epoch seconds or
// milliseconds (numeric or numeric string), and the gviz textual form
// "Date(y,m,d,h,mm,ss)" with its zero-based month. Returns nil when
// nothing matches.
func ParseTimestamp(v any) *time.Time {
	switch x := v.(type) {
	case time.Time:
		t := x.UTC()
		return &t
	case float64:
		return epochToTime(int64(x))
	case int64:
		return epochToTime(x)
	case int:
		return epochToTime(int64(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		if m := gvizDateRe.FindStringSubmatch(s); m != nil {
			return gvizToTime(m)
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(n)
		}
	}
	return nil
}

// epochToTime interprets n as epoch milliseconds when it is too large to be
// a plausible epoch-seconds value.
func epochToTime(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	var t time.Time
	if n > 1e11 {
		t = time.UnixMilli(n).UTC()
	} else {
		t = time.Unix(n, 0).UTC()
	}
	return &t
}

func gvizToTime(m []string) *time.Time {
	atoi := func(s string) int {
		if s == "" {
			return 0
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	// gviz months are zero-based: Date(2025,7,14,...) is August 14th.
	t := time.Date(atoi(m[1]), time.Month(atoi(m[2])+1), atoi(m[3]),
		atoi(m[4]), atoi(m[5]), atoi(m[6]), 0, time.UTC)
	return &t
}
