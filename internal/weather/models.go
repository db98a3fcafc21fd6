package weather

import (
	"maps"
	"sort"
	"strings"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Category is a class of weather data requested independently per source,
// e.g. current conditions or a forecast.
type Category string

const (
	CategoryCurrent  Category = "current"
	CategoryForecast Category = "forecast"
)

// Canonical measurement field names produced by normalization.
const (
	FieldTemperature    = "temperature"
	FieldTemperatureMin = "temperature_min"
	FieldTemperatureMax = "temperature_max"
	FieldHumidity       = "humidity"
	FieldPressure       = "pressure"
	FieldWindSpeed      = "wind_speed"
	FieldWindDirection  = "wind_direction"
	FieldPrecipitation  = "precipitation"
	FieldCondition      = "condition"
	FieldObservedAt     = "observed_at"
	FieldTime           = "time"
	FieldPeriods        = "periods"
)

// Location is a caller-defined place. Its values fill URL placeholders and the
// whole mapping is the identity used when locations are added or removed.
type Location map[string]string

// Key returns a canonical string key for indexing this location.
// Keys are sorted so two equal locations always produce the same key.
func (l Location) Key() string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(l[k])
	}
	return b.String()
}

// Equal reports whether both locations hold exactly the same pairs.
func (l Location) Equal(other Location) bool {
	return maps.Equal(l, other)
}

func (l Location) Clone() Location {
	if l == nil {
		return nil
	}
	return maps.Clone(l)
}

// Source is an external provider exposing one URL template per category.
type Source struct {
	Name string              `json:"name"`
	URLs map[Category]string `json:"urls"`
}

func (s Source) Clone() Source {
	return Source{Name: s.Name, URLs: maps.Clone(s.URLs)}
}

// Measurements maps canonical field names to values. Values are float64,
// string, or nested []any / map[string]any built from those.
type Measurements map[string]any

// Clone returns a deep copy.
func (m Measurements) Clone() Measurements {
	if m == nil {
		return nil
	}
	out := make(Measurements, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Measurements:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner).(map[string]any)
		}
		return out
	default:
		return v
	}
}

// ProxyInfo is a point-in-time view of one proxy matrix cell.
// Fetched is false until the cell has been refreshed at least once.
type ProxyInfo struct {
	Category Category `json:"category"`
	Source   Source   `json:"source"`
	Location Location `json:"location"`
	URL      string   `json:"url"`
	Data     string   `json:"data"`
	Status   int      `json:"status"`
	Fetched  bool     `json:"fetched"`
}

// RawEntry is one un-normalized payload handed to the history log.
type RawEntry struct {
	Data     string
	Location Location
	Source   Source
}

// DataEntry holds the normalized measurements of one (source, location) pair.
// Measurements is empty when normalization failed.
type DataEntry struct {
	Location     Location     `json:"location"`
	Source       Source       `json:"source"`
	Measurements Measurements `json:"measurements"`
}

func (d DataEntry) Clone() DataEntry {
	return DataEntry{
		Location:     d.Location.Clone(),
		Source:       d.Source.Clone(),
		Measurements: d.Measurements.Clone(),
	}
}

// HistoryEntry is the normalized result of one refresh sweep for one category.
type HistoryEntry struct {
	ID       string      `json:"id"`
	Time     time.Time   `json:"time"` // always UTC
	Category Category    `json:"category"`
	Data     []DataEntry `json:"data"`
}

func (e HistoryEntry) Clone() HistoryEntry {
	data := make([]DataEntry, len(e.Data))
	for i, d := range e.Data {
		data[i] = d.Clone()
	}
	return HistoryEntry{
		ID:       e.ID,
		Time:     e.Time,
		Category: e.Category,
		Data:     data,
	}
}

// LocationSummary is the cross-source view of one location within a
// history entry.
type LocationSummary struct {
	Location  Location           `json:"location"`
	Fields    map[string]float64 `json:"fields"`
	Condition Condition          `json:"condition"`

	// Sources whose measurements contributed to this summary.
	Sources []string `json:"sources,omitempty"`
}
