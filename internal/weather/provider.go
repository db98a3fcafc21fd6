package weather

import (
	"context"
	"time"
)

// Normalizer maps a raw provider payload to canonical measurements.
// It may fail for any input: unknown source, unsupported category or a
// malformed payload.
type Normalizer interface {
	Normalize(category Category, source string, raw string) (Measurements, error)
}

// NormalizerFunc adapts a plain function to the Normalizer interface.
type NormalizerFunc func(category Category, source string, raw string) (Measurements, error)

func (f NormalizerFunc) Normalize(category Category, source string, raw string) (Measurements, error) {
	return f(category, source, raw)
}

// Matrix is the contract the proxy matrix must satisfy for the Service.
type Matrix interface {
	Refresh(ctx context.Context, category Category) error
	ProxyInfo() []ProxyInfo
}

// History is the contract the history log must satisfy for the Service.
type History interface {
	Add(t time.Time, category Category, raw []RawEntry) HistoryEntry
	Entries() []HistoryEntry
	Dates() []string
	Latest(category Category) (HistoryEntry, error)
	Range(from, to time.Time) ([]HistoryEntry, error)
}
