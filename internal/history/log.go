package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/skybon/weatherchecker/internal/weather"
)

var (
	// ErrNotFound is returned when no history entry matches a query.
	ErrNotFound = errors.New("no history entries found")
)

// DateLayout is the fixed-width layout used for Dates.
const DateLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Log is an append-only, concurrency-safe history of refresh snapshots.
type Log struct {
	mu      sync.RWMutex
	entries []weather.HistoryEntry
	last    time.Time

	normalizer weather.Normalizer
	logger     *slog.Logger
}

// New creates an empty Log that normalizes payloads with normalizer.
func New(normalizer weather.Normalizer, logger *slog.Logger) *Log {
	return &Log{
		normalizer: normalizer,
		logger:     logger.With("component", "history"),
	}
}

// Add normalizes every raw entry and appends one history entry.
// A normalization failure leaves that entry's measurements empty and never
// affects the others. t is clamped so timestamps never go backwards.
func (l *Log) Add(t time.Time, category weather.Category, raw []weather.RawEntry) weather.HistoryEntry {
	data := make([]weather.DataEntry, 0, len(raw))
	for _, r := range raw {
		data = append(data, weather.DataEntry{
			Location:     r.Location.Clone(),
			Source:       r.Source.Clone(),
			Measurements: l.normalize(category, r),
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t = t.UTC()
	if t.Before(l.last) {
		t = l.last
	}
	l.last = t

	entry := weather.HistoryEntry{
		ID:       uuid.NewString(),
		Time:     t,
		Category: category,
		Data:     data,
	}
	l.entries = append(l.entries, entry)
	return entry.Clone()
}

func (l *Log) normalize(category weather.Category, r weather.RawEntry) (m weather.Measurements) {
	source := cases.Lower(language.Und).String(r.Source.Name)

	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("normalizer panicked", "category", category, "source", source, "panic", fmt.Sprint(rec))
			m = weather.Measurements{}
		}
	}()

	m, err := l.normalizer.Normalize(category, source, r.Data)
	if err != nil {
		l.logger.Warn("normalization failed",
			"category", category,
			"source", source,
			"location", r.Location.Key(),
			"error", err,
		)
		return weather.Measurements{}
	}
	if m == nil {
		return weather.Measurements{}
	}
	// The normalizer may keep its own reference to m.
	return m.Clone()
}

// Dates returns every recorded timestamp in append order.
func (l *Log) Dates() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	dates := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		dates = append(dates, e.Time.Format(DateLayout))
	}
	return dates
}

// Entries returns a deep copy of the whole log.
func (l *Log) Entries() []weather.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]weather.HistoryEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Latest returns the most recent entry for a category.
func (l *Log) Latest(category weather.Category) (weather.HistoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Category == category {
			return l.entries[i].Clone(), nil
		}
	}
	return weather.HistoryEntry{}, ErrNotFound
}

// Range returns all entries between from and to (inclusive).
func (l *Log) Range(from, to time.Time) ([]weather.HistoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []weather.HistoryEntry
	for _, e := range l.entries {
		if !e.Time.Before(from) && !e.Time.After(to) {
			result = append(result, e.Clone())
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
