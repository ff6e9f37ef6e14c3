package domain

// Category names one sensor group on a ClimBox station.
type Category string

const (
	CategoryMeteorologi       Category = "meteorologi"
	CategoryPresipitasi       Category = "presipitasi"
	CategoryKualitasFisika    Category = "kualitas_fisika"
	CategoryKimiaDasar        Category = "kualitas_kimia_dasar"
	CategoryKimiaLanjut       Category = "kualitas_kimia_lanjut"
	CategoryKualitasTurbidity Category = "kualitas_turbiditas"
)

// Field declares one canonical measurement and the raw labels it has been
// seen under across sheet revisions. The canonical key itself always counts
// as an alias, so push payloads that already use canonical keys resolve too.
type Field struct {
	Key     string
	Aliases []string
}

// catalog is the static category → field declaration. Field order within a
// category matches the upstream sheet column order and drives chart series
// and card layout downstream. A field must not be declared in two
// categories; CategoryOf relies on that.
var catalog = map[Category][]Field{
	CategoryMeteorologi: {
		{Key: "air_temp", Aliases: []string{"Air Temp (C)", "Temp udara", "temperature", "suhu udara"}},
		{Key: "humidity", Aliases: []string{"Air Humidity (%)", "Humidity", "kelembaban udara"}},
		{Key: "wind_direction", Aliases: []string{"Wind Direction", "Arah Angin"}},
		{Key: "wind_speed", Aliases: []string{"Wind Speed (km/h)", "Kecepatan Angin"}},
	},
	CategoryPresipitasi: {
		{Key: "rainfall", Aliases: []string{"Rainfall (mm)", "Rain Intensity (mm/h)", "Intensitas Hujan"}},
		{Key: "distance", Aliases: []string{"Distance (mm)", "Water Surface Distance (cm)", "Jarak Permukaan Air"}},
	},
	CategoryKualitasFisika: {
		{Key: "water_temp", Aliases: []string{"Water Temp (C)", "WaterTemp", "sst", "Suhu Air"}},
		{Key: "ec", Aliases: []string{"EC (ms/cm)", "EC (mS/cm)"}},
	},
	CategoryKimiaDasar: {
		{Key: "tds", Aliases: []string{"TDS (ppm)"}},
		{Key: "ph", Aliases: []string{"pH"}},
	},
	CategoryKimiaLanjut: {
		{Key: "do", Aliases: []string{"DO (ug/L)", "DO (mg/L)"}},
		{Key: "pump", Aliases: []string{"Pump Status", "pompa"}},
	},
	CategoryKualitasTurbidity: {
		{Key: "tss", Aliases: []string{"TSS (V)", "TSS (mg/l)"}},
	},
}

// categoryOrder fixes the rendering order of categories; map iteration
// order would shuffle cards and chart series between runs.
var categoryOrder = []Category{
	CategoryMeteorologi,
	CategoryPresipitasi,
	CategoryKualitasFisika,
	CategoryKimiaDasar,
	CategoryKimiaLanjut,
	CategoryKualitasTurbidity,
}

// Coordinate fields ride along in some feeds but belong to the station, not
// to a sensor category. They resolve onto the reading's top level.
var (
	latitudeField  = Field{Key: "latitude", Aliases: []string{"Latitude", "lat"}}
	longitudeField = Field{Key: "longitude", Aliases: []string{"Longitude", "lon", "long"}}
)

// Categories returns all declared categories in rendering order.
func Categories() []Category {
	return categoryOrder
}

// FieldsFor returns the ordered field declarations for a category, or nil
// for an unknown category.
func FieldsFor(c Category) []Field {
	return catalog[c]
}

// CategoryOf returns the category owning a canonical field key, if any.
func CategoryOf(key string) (Category, bool) {
	for _, c := range categoryOrder {
		for _, f := range catalog[c] {
			if f.Key == key {
				return c, true
			}
		}
	}
	return "", false
}

// normalizedAliases returns the candidate lookup keys for a field: the
// canonical key first, then each declared alias, all normalized.
func (f Field) normalizedAliases() []string {
	keys := make([]string, 0, len(f.Aliases)+1)
	keys = append(keys, f.Key)
	for _, a := range f.Aliases {
		keys = append(keys, NormalizeKey(a))
	}
	return keys
}
