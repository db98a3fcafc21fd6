package weather

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Service orchestrates refresh sweeps over the proxy matrix and records the
// results into the history log.
//
// Refreshes of the same category are serialized; different categories may be
// refreshed concurrently.
type Service struct {
	categories []Category
	matrix     Matrix
	history    History
	logger     *slog.Logger

	now func() time.Time

	mu    sync.Mutex
	locks map[Category]*sync.Mutex
}

// NewService creates a new Service.
func NewService(categories []Category, matrix Matrix, history History, logger *slog.Logger) *Service {
	return &Service{
		categories: slices.Clone(categories),
		matrix:     matrix,
		history:    history,
		logger:     logger.With("component", "weather-service"),
		now:        func() time.Time { return time.Now().UTC() },
		locks:      make(map[Category]*sync.Mutex),
	}
}

// Refresh fetches every matrix cell of the category and appends one history
// entry built from the resulting proxy state.
//
// The entry timestamp is captured once, immediately before the fetch starts.
// An entry is appended even when some fetches failed; the returned error
// reports fetch failures other than connection failures, which are already
// recorded as empty payloads.
func (s *Service) Refresh(ctx context.Context, category Category) (HistoryEntry, error) {
	lock := s.categoryLock(category)
	lock.Lock()
	defer lock.Unlock()

	started := s.now()
	s.logger.Debug("refresh started", "category", category)

	fetchErr := s.matrix.Refresh(ctx, category)
	if fetchErr != nil {
		s.logger.Error("refresh completed with fetch errors", "category", category, "error", fetchErr)
	}

	var raw []RawEntry
	for _, info := range s.matrix.ProxyInfo() {
		if info.Category != category {
			continue
		}
		raw = append(raw, RawEntry{
			Data:     info.Data,
			Location: info.Location,
			Source:   info.Source,
		})
	}

	entry := s.history.Add(started, category, raw)
	s.logger.Info("history entry recorded",
		"category", category,
		"entries", len(entry.Data),
		"elapsed", s.now().Sub(started),
	)
	return entry, fetchErr
}

func (s *Service) categoryLock(category Category) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[category]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[category] = lock
	}
	return lock
}

// Categories returns the configured categories in order.
func (s *Service) Categories() []Category {
	return slices.Clone(s.categories)
}

// HasCategory reports whether the category is configured.
func (s *Service) HasCategory(category Category) bool {
	return slices.Contains(s.categories, category)
}

// ProxyInfo delegates to the underlying matrix.
func (s *Service) ProxyInfo() []ProxyInfo {
	return s.matrix.ProxyInfo()
}

// History returns an independent copy of the full history log.
func (s *Service) History() []HistoryEntry {
	return s.history.Entries()
}

// Dates delegates to the underlying history log.
func (s *Service) Dates() []string {
	return s.history.Dates()
}

// GetLatest delegates to the underlying history log.
func (s *Service) GetLatest(category Category) (HistoryEntry, error) {
	return s.history.Latest(category)
}

// GetRange delegates to the underlying history log.
func (s *Service) GetRange(from, to time.Time) ([]HistoryEntry, error) {
	return s.history.Range(from, to)
}
