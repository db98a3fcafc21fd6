package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/skybon/weatherchecker/internal/weather"
)

// DefaultMaxConcurrency caps the number of fetches in flight during a refresh.
const DefaultMaxConcurrency = 16

// ErrRefreshInProgress is returned when a location is added or removed while
// a refresh is running.
var ErrRefreshInProgress = errors.New("proxy matrix: refresh in progress")

type entry struct {
	category weather.Category
	source   weather.Source
	location weather.Location
	proxy    *Proxy
}

// Matrix holds one proxy per (category, source, location) cell.
type Matrix struct {
	categories     []weather.Category
	sources        []weather.Source
	fetchers       FetcherFactory
	maxConcurrency int64
	logger         *slog.Logger

	mu         sync.RWMutex
	entries    []*entry
	refreshing atomic.Int32
}

// Option configures a Matrix.
type Option func(*Matrix)

// WithMaxConcurrency bounds the fetches in flight during a refresh.
func WithMaxConcurrency(n int) Option {
	return func(m *Matrix) {
		if n > 0 {
			m.maxConcurrency = int64(n)
		}
	}
}

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matrix) {
		m.logger = logger
	}
}

// NewMatrix creates an empty matrix over the given categories and sources.
func NewMatrix(categories []weather.Category, sources []weather.Source, fetchers FetcherFactory, opts ...Option) *Matrix {
	m := &Matrix{
		categories:     slices.Clone(categories),
		fetchers:       fetchers,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         slog.Default(),
	}
	for _, s := range sources {
		m.sources = append(m.sources, s.Clone())
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "proxy-matrix")
	return m
}

// AddLocation appends one proxy per (category, source) pair for loc.
// URL placeholders are filled from loc and then env, so env wins when both
// define the same key.
func (m *Matrix) AddLocation(loc weather.Location, env map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refreshing.Load() > 0 {
		return ErrRefreshInProgress
	}

	params := make(map[string]string, len(loc)+len(env))
	maps.Copy(params, loc)
	maps.Copy(params, env)

	for _, category := range m.categories {
		for _, source := range m.sources {
			m.entries = append(m.entries, &entry{
				category: category,
				source:   source.Clone(),
				location: loc.Clone(),
				proxy:    New(source.URLs[category], params, m.fetchers(source.Name)),
			})
		}
	}

	m.logger.Debug("location added", "location", loc.Key(), "entries", len(m.entries))
	return nil
}

// RemoveLocation drops every entry whose location equals loc and returns how
// many were removed.
func (m *Matrix) RemoveLocation(loc weather.Location) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refreshing.Load() > 0 {
		return 0, ErrRefreshInProgress
	}

	before := len(m.entries)
	m.entries = slices.DeleteFunc(m.entries, func(e *entry) bool {
		return e.location.Equal(loc)
	})
	removed := before - len(m.entries)

	m.logger.Debug("location removed", "location", loc.Key(), "removed", removed)
	return removed, nil
}

// Refresh fetches every proxy of the category concurrently and returns once
// all of them have finished. Errors other than connection failures are joined
// and returned after the barrier. When ctx ends first, every proxy not yet
// fetched is recorded as unreachable; only cancellation is reported.
func (m *Matrix) Refresh(ctx context.Context, category weather.Category) error {
	m.mu.RLock()
	var selected []*entry
	for _, e := range m.entries {
		if e.category == category {
			selected = append(selected, e)
		}
	}
	m.refreshing.Add(1)
	m.mu.RUnlock()
	defer m.refreshing.Add(-1)

	if len(selected) == 0 {
		return nil
	}

	var (
		sem  = semaphore.NewWeighted(m.maxConcurrency)
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	record := func(e *entry, err error) {
		m.logger.Warn("proxy fetch failed",
			"category", category,
			"source", e.source.Name,
			"location", e.location.Key(),
			"error", err,
		)
		mu.Lock()
		errs = append(errs, fmt.Errorf("%s/%s/%s: %w", category, e.source.Name, e.location.Key(), err))
		mu.Unlock()
	}

	for i, e := range selected {
		if err := sem.Acquire(ctx, 1); err != nil {
			// The sweep ran out of time or was canceled: cells never reached get
			// no response rather than keeping the previous cycle's payload.
			skipped := selected[i:]
			for _, s := range skipped {
				s.proxy.markUnreachable()
			}
			m.logger.Warn("refresh cut short",
				"category", category,
				"skipped", len(skipped),
				"error", err,
			)
			if !IsConnectionFailure(err) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %d fetches not started: %w", category, len(skipped), err))
				mu.Unlock()
			}
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					record(e, fmt.Errorf("panic during fetch: %v", r))
				}
			}()

			if err := e.proxy.Refresh(ctx); err != nil {
				record(e, err)
			}
		}()
	}

	wg.Wait()
	return errors.Join(errs...)
}

// ProxyInfo returns a snapshot of every entry in insertion order.
func (m *Matrix) ProxyInfo() []weather.ProxyInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := make([]weather.ProxyInfo, 0, len(m.entries))
	for _, e := range m.entries {
		st := e.proxy.State()
		info = append(info, weather.ProxyInfo{
			Category: e.category,
			Source:   e.source.Clone(),
			Location: e.location.Clone(),
			URL:      e.proxy.URL(),
			Data:     st.Payload,
			Status:   st.Status,
			Fetched:  st.Fetched,
		})
	}
	return info
}

// Len returns the number of entries.
func (m *Matrix) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Locations returns the registered locations in the order they were added.
func (m *Matrix) Locations() []weather.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var locs []weather.Location
	for _, e := range m.entries {
		key := e.location.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		locs = append(locs, e.location.Clone())
	}
	return locs
}
