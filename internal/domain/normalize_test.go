package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		label string
		want  string
	}{
		{"Water Temp (C)", "water_temp"},
		{"water_temp", "water_temp"},
		{"EC (ms/cm)", "ec"},
		{"EC (mS/cm)", "ec"},
		{"ec", "ec"},
		{"Wind Speed (km/h)", "wind_speed"},
		{"TDS (ppm)", "tds"},
		{"pH", "ph"},
		{"DO (ug/L)", "do"},
		{"Temp udara", "temp_udara"},
		{"  Rainfall (mm)  ", "rainfall"},
		{"Timestamp", "timestamp"},
		{"__weird--label__", "weird_label"},
		{"", ""},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeKey(tc.label))
		})
	}
}

func TestNormalizeKey_Idempotent(t *testing.T) {
	labels := []string{
		"Water Temp (C)", "EC (ms/cm)", "Wind Speed (km/h)", "pH",
		"Air Humidity (%)", "TSS (V)", "Jarak Permukaan Air",
	}
	for _, l := range labels {
		once := NormalizeKey(l)
		assert.Equal(t, once, NormalizeKey(once), "normalize must be idempotent for %q", l)
	}
}

func TestValidLocationID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"kolam-1", true},
		{"pulau_komodo", true},
		{"Loc42", true},
		{"", false},
		{"..", false},
		{"../outside", false},
		{"a/b", false},
		{`a\b`, false},
		{".hidden", false},
		{"kolam 1", false},
		{"kolam.1", false},
		{"+", false},
		{"#", false},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
	}

	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidLocationID(tc.id))
		})
	}
}

func TestNormalizeKey_CollapsesLabelVariants(t *testing.T) {
	// Differently-spelled upstream labels must land on the same key; this
	// collision is the mechanism that reconciles inconsistent naming.
	assert.Equal(t, NormalizeKey("water_temp"), NormalizeKey("Water Temp (C)"))
	assert.Equal(t, NormalizeKey("ec"), NormalizeKey("EC (ms/cm)"))
	assert.Equal(t, NormalizeKey("tss"), NormalizeKey("TSS (mg/l)"))
}
