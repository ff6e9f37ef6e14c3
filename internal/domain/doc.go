// Package domain models ClimBox environmental sensor readings.
//
// # Data Sources
//
// Readings for a location arrive from three independently-evolving feeds:
//
//   - a tabular history export (Google Visualization "gviz" JSON, one sheet
//     per day), fetched on a schedule,
//   - a live MQTT push stream on climbox/{locationId}/... topics,
//   - a local durable cache written by this engine and read back at cold
//     start or when the history transport is down.
//
// All three produce the same logical thing, a raw row of label → value, but
// none of them agree on labels. Field headers are human-authored in the
// upstream sheets and have drifted over the years: "Water Temp (C)",
// "water temp", "WaterTemp" and "Suhu Air" all mean the same measurement.
// [NormalizeKey] plus the alias [Catalog] are the mechanism that folds this
// drift into one canonical schema.
//
// # Label Conventions
//
// Canonical field identifiers are lowercase, underscore-separated and
// unit-free: water_temp, air_temp, humidity, wind_direction, wind_speed,
// rainfall, distance, ec, tds, ph, do, pump, tss. Units in parentheses on
// raw labels ("EC (ms/cm)") are stripped during normalization, which is how
// "EC (ms/cm)" and "ec" land on the same key.
//
// Fields are grouped into six sensor categories mirroring the upstream
// station hardware: meteorologi, presipitasi, kualitas_fisika,
// kualitas_kimia_dasar, kualitas_kimia_lanjut, kualitas_turbiditas.
//
// # Value Conventions
//
// Values are numeric wherever they parse as numbers after locale cleanup
// (thousands separators removed, decimal comma converted to a dot).
// Non-numeric states like pump status ("ON"/"OFF") are kept as trimmed
// strings. The upstream sheets use several "no measurement" sentinels,
// all of which coerce to nil: "n/a", "na", "not measured",
// "tidak mengukur", "-", "--", "null" and the empty string.
//
// # Timestamps
//
// Timestamp columns appear under several labels (Timestamp, timestamp_iso,
// time, ...) and in several encodings: RFC 3339, epoch milliseconds,
// "M/D/YYYY H:MM:SS", and the gviz textual form "Date(y,m,d,h,mm,ss)"
// where the month is zero-based. Parsing is best-effort; a reading with an
// unparseable timestamp keeps a nil timestamp rather than failing.
package domain
