package domain

import (
	"regexp"
	"strings"
)

var (
	// parenRe removes parenthesized unit suffixes: "Water Temp (C)" → "Water Temp ".
	parenRe = regexp.MustCompile(`\(.*?\)`)

	// nonAlnumRe collapses every run of non-alphanumeric characters to one underscore.
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

	// locationIDRe constrains location identifiers to a slug that is safe
	// as a cache directory name and as an MQTT topic segment. IDs arrive
	// from untrusted feeds, so path separators and dot sequences never pass.
	locationIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
)

// ValidLocationID reports whether id is usable as a location identifier.
// Every ingestion boundary checks this before the id reaches storage.
func ValidLocationID(id string) bool {
	return locationIDRe.MatchString(id)
}

// NormalizeKey maps a raw, human-authored field label to its canonical key:
// trim, lowercase, strip parenthesized units, collapse punctuation and
// whitespace runs to single underscores, trim leading/trailing underscores.
//
// Collisions are the point: "EC (ms/cm)", "EC (mS/cm)" and "ec" must all
// normalize to "ec" so that readings from differently-labelled feeds land on
// the same canonical field. NormalizeKey is idempotent, so already-canonical
// keys pass through unchanged.
func NormalizeKey(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = parenRe.ReplaceAllString(s, "")
	s = nonAlnumRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
