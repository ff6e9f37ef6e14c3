// Package mqtt subscribes to the live telemetry feed. Device firmware in the
// field publishes several payload shapes; DecodePayload normalizes them all
// to ordered raw rows before the reconciler sees them.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/climbox/telemetry-engine/internal/domain"
)

// timestampish reports whether a normalized key names a timestamp field,
// which is how a bare object is recognized as a single reading.
func timestampish(key string) bool {
	switch domain.NormalizeKey(key) {
	case "timestamp", "timestamp_iso", "time", "datetime", "created_at", "tanggal":
		return true
	}
	return false
}

// DecodePayload extracts raw rows from one live message body. Rules are
// tried in order:
//
//  1. bare JSON array of row objects
//  2. object with a "rows" array
//  3. object with a "data" array
//  4. bare object carrying a timestamp-like key — a single reading
//  5. bare object whose first (alphabetical) array-valued property holds
//     the rows
//
// Anything else is domain.ErrLiveMessageUnusable.
func DecodePayload(body []byte) ([]domain.RawRecord, error) {
	trimmed := strings.TrimSpace(string(body))

	if strings.HasPrefix(trimmed, "[") {
		rows, err := decodeRows([]byte(trimmed))
		if err != nil {
			return nil, fmt.Errorf("%w: bare array: %w", domain.ErrLiveMessageUnusable, err)
		}
		return rows, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLiveMessageUnusable, err)
	}

	for _, key := range []string{"rows", "data"} {
		raw, ok := obj[key]
		if !ok || !isArray(raw) {
			continue
		}
		rows, err := decodeRows(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q array: %w", domain.ErrLiveMessageUnusable, key, err)
		}
		return rows, nil
	}

	for key := range obj {
		if timestampish(key) {
			var row domain.RawRecord
			if err := json.Unmarshal(body, &row); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrLiveMessageUnusable, err)
			}
			return []domain.RawRecord{row}, nil
		}
	}

	// Deterministic pick when several properties hold arrays.
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !isArray(obj[key]) {
			continue
		}
		rows, err := decodeRows(obj[key])
		if err != nil {
			continue
		}
		return rows, nil
	}

	return nil, fmt.Errorf("%w: no recognizable row container", domain.ErrLiveMessageUnusable)
}

// LocationFromPayload returns the explicit location identifier carried in
// the message body, if any.
func LocationFromPayload(body []byte) string {
	var probe struct {
		LocationID string `json:"locationId"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.LocationID
}

// LocationFromTopic extracts the location segment from a feed topic like
// "climbox/kolam-1/latest" given the configured base, or "" when the topic
// does not match.
func LocationFromTopic(topic, base string) string {
	rest, ok := strings.CutPrefix(topic, base+"/")
	if !ok {
		return ""
	}
	seg, _, _ := strings.Cut(rest, "/")
	if seg == "+" || seg == "#" {
		return ""
	}
	return seg
}

func decodeRows(raw []byte) ([]domain.RawRecord, error) {
	var rows []domain.RawRecord
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "[")
}
