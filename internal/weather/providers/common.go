package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/skybon/weatherchecker/internal/weather"
)

var (
	ErrUnknownSource       = errors.New("unknown source")
	ErrUnsupportedCategory = errors.New("unsupported category")
	ErrMalformedPayload    = errors.New("malformed payload")
)

// NormalizeFunc maps one raw payload of a fixed (source, category) pair to
// canonical measurements.
type NormalizeFunc func(raw string) (weather.Measurements, error)

// Registry dispatches normalization by lower-cased source name and category.
// It implements weather.Normalizer.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]map[weather.Category]NormalizeFunc
}

// NewRegistry returns a Registry with every built-in source registered.
func NewRegistry() *Registry {
	r := &Registry{sources: make(map[string]map[weather.Category]NormalizeFunc)}

	r.Register(OpenWeatherName, weather.CategoryCurrent, normalizeOpenWeatherCurrent)
	r.Register(OpenWeatherName, weather.CategoryForecast, normalizeOpenWeatherForecast)
	r.Register(WeatherAPIName, weather.CategoryCurrent, normalizeWeatherAPICurrent)
	r.Register(WeatherAPIName, weather.CategoryForecast, normalizeWeatherAPIForecast)
	r.Register(OpenMeteoName, weather.CategoryCurrent, normalizeOpenMeteoCurrent)
	r.Register(OpenMeteoName, weather.CategoryForecast, normalizeOpenMeteoForecast)

	return r
}

// Register adds or replaces the normalizer for a (source, category) pair.
func (r *Registry) Register(source string, category weather.Category, fn NormalizeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byCategory, ok := r.sources[source]
	if !ok {
		byCategory = make(map[weather.Category]NormalizeFunc)
		r.sources[source] = byCategory
	}
	byCategory[category] = fn
}

// Sources returns the registered source names, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Normalize(category weather.Category, source string, raw string) (weather.Measurements, error) {
	r.mu.RLock()
	byCategory, ok := r.sources[source]
	var fn NormalizeFunc
	if ok {
		fn, ok = byCategory[category]
	}
	r.mu.RUnlock()

	if byCategory == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s does not provide %q", ErrUnsupportedCategory, source, category)
	}
	return fn(raw)
}

// requireObject validates raw as JSON and checks that path exists in it.
func requireObject(raw, path string) error {
	if !gjson.Valid(raw) {
		return fmt.Errorf("%w: invalid json", ErrMalformedPayload)
	}
	if !gjson.Get(raw, path).Exists() {
		return fmt.Errorf("%w: missing %q", ErrMalformedPayload, path)
	}
	return nil
}

// setFloat stores res under field when present in the payload.
func setFloat(m map[string]any, field string, res gjson.Result) {
	if res.Exists() {
		m[field] = res.Float()
	}
}

// setScaled stores res multiplied by factor under field when present.
func setScaled(m map[string]any, field string, res gjson.Result, factor float64) {
	if res.Exists() {
		m[field] = res.Float() * factor
	}
}

func setUnixTime(m map[string]any, field string, res gjson.Result) {
	if res.Exists() && res.Int() > 0 {
		m[field] = time.Unix(res.Int(), 0).UTC().Format(time.RFC3339)
	}
}

// kphToMS converts kilometres per hour to metres per second.
const kphToMS = 1 / 3.6
