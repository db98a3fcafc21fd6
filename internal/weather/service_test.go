package weather_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skybon/weatherchecker/internal/history"
	"github.com/skybon/weatherchecker/internal/proxy"
	"github.com/skybon/weatherchecker/internal/weather"
	"github.com/skybon/weatherchecker/internal/weather/providers"
)

const currentFixture = `{"weather":[{"main":"Clear"}],"main":{"temp":21.5,"pressure":1015,"humidity":40},"wind":{"speed":2.5,"deg":90},"dt":1700000000}`

type stack struct {
	matrix  *proxy.Matrix
	history *history.Log
	service *weather.Service
	hits    *atomic.Int32
}

// newStack wires a real matrix, history and service over two sources: one
// backed by a fixture server and one whose host refuses connections.
func newStack(t *testing.T) *stack {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("id") != "42" || r.URL.Query().Get("appid") != "secret" {
			http.Error(w, `{"cod":401}`, http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, currentFixture)
	}))
	t.Cleanup(srv.Close)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	logger := slog.New(slog.DiscardHandler)
	categories := []weather.Category{weather.CategoryCurrent}
	sources := []weather.Source{
		{Name: "OpenWeatherMap", URLs: map[weather.Category]string{
			weather.CategoryCurrent: srv.URL + "/data/2.5/weather?id=${id}&appid=${appid}",
		}},
		{Name: "WeatherAPI", URLs: map[weather.Category]string{
			weather.CategoryCurrent: deadURL + "/v1/current.json?q=${id}",
		}},
	}

	transport := proxy.NewTransport(proxy.HTTPClientConfig{
		Client:  &http.Client{},
		Timeout: 2 * time.Second,
	}, logger)
	matrix := proxy.NewMatrix(categories, sources, transport.ForSource, proxy.WithLogger(logger))
	require.NoError(t, matrix.AddLocation(weather.Location{"id": "42"}, map[string]string{"appid": "secret"}))

	hist := history.New(providers.NewRegistry(), logger)

	return &stack{
		matrix:  matrix,
		history: hist,
		service: weather.NewService(categories, matrix, hist, logger),
		hits:    &hits,
	}
}

func TestRefreshRecordsOneEntryPerSweep(t *testing.T) {
	s := newStack(t)

	entry, err := s.service.Refresh(context.Background(), weather.CategoryCurrent)
	require.NoError(t, err)

	entries := s.service.History()
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, weather.CategoryCurrent, entries[0].Category)
	require.Len(t, entries[0].Data, 2)

	bySource := make(map[string]weather.DataEntry)
	for _, d := range entries[0].Data {
		assert.Equal(t, weather.Location{"id": "42"}, d.Location)
		bySource[d.Source.Name] = d
	}

	ok := bySource["OpenWeatherMap"].Measurements
	assert.Equal(t, 21.5, ok[weather.FieldTemperature])
	assert.Equal(t, string(weather.ConditionClear), ok[weather.FieldCondition])

	assert.Empty(t, bySource["WeatherAPI"].Measurements)

	for _, p := range s.service.ProxyInfo() {
		assert.True(t, p.Fetched)
		if p.Source.Name == "WeatherAPI" {
			assert.Equal(t, proxy.StatusNotFound, p.Status)
			assert.Empty(t, p.Data)
		} else {
			assert.Equal(t, http.StatusOK, p.Status)
		}
	}
	assert.Equal(t, int32(1), s.hits.Load())
}

func TestRepeatedRefreshesGrowHistory(t *testing.T) {
	s := newStack(t)

	_, err := s.service.Refresh(context.Background(), weather.CategoryCurrent)
	require.NoError(t, err)
	_, err = s.service.Refresh(context.Background(), weather.CategoryCurrent)
	require.NoError(t, err)

	entries := s.service.History()
	require.Len(t, entries, 2)
	assert.False(t, entries[1].Time.Before(entries[0].Time))
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.Len(t, s.service.Dates(), 2)

	latest, err := s.service.GetLatest(weather.CategoryCurrent)
	require.NoError(t, err)
	assert.Equal(t, entries[1].ID, latest.ID)

	summary := weather.Summarize(latest)
	require.Len(t, summary, 1)
	assert.Equal(t, 21.5, summary[0].Fields[weather.FieldTemperature])
	assert.Equal(t, []string{"OpenWeatherMap"}, summary[0].Sources)
}

func TestRefreshOfUnmatchedCategoryAppendsEmptyEntry(t *testing.T) {
	s := newStack(t)

	entry, err := s.service.Refresh(context.Background(), weather.CategoryForecast)
	require.NoError(t, err)

	assert.Empty(t, entry.Data)
	assert.Equal(t, 1, s.history.Len())
	assert.Zero(t, s.hits.Load())
	for _, p := range s.matrix.ProxyInfo() {
		assert.False(t, p.Fetched)
	}
}

func TestRefreshCutShortByDeadlineRecordsNoStaleData(t *testing.T) {
	var slow atomic.Bool
	fetchers := func(string) proxy.Fetcher {
		return proxy.FetcherFunc(func(ctx context.Context, url string) (proxy.Response, error) {
			if slow.Load() {
				select {
				case <-time.After(50 * time.Millisecond):
				case <-ctx.Done():
					return proxy.Response{}, ctx.Err()
				}
			}
			return proxy.Response{Body: currentFixture, Status: http.StatusOK}, nil
		})
	}

	logger := slog.New(slog.DiscardHandler)
	categories := []weather.Category{weather.CategoryCurrent}
	sources := []weather.Source{{Name: "OpenWeatherMap", URLs: map[weather.Category]string{
		weather.CategoryCurrent: "http://owm.test/weather?id=${id}",
	}}}
	matrix := proxy.NewMatrix(categories, sources, fetchers,
		proxy.WithLogger(logger),
		proxy.WithMaxConcurrency(1),
	)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, matrix.AddLocation(weather.Location{"id": id}, nil))
	}
	svc := weather.NewService(categories, matrix, history.New(providers.NewRegistry(), logger), logger)

	first, err := svc.Refresh(context.Background(), weather.CategoryCurrent)
	require.NoError(t, err)
	require.Len(t, first.Data, 3)
	for _, d := range first.Data {
		require.Equal(t, 21.5, d.Measurements[weather.FieldTemperature])
	}

	slow.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	second, err := svc.Refresh(ctx, weather.CategoryCurrent)
	require.NoError(t, err)
	require.Len(t, second.Data, 3)
	for _, d := range second.Data {
		assert.Empty(t, d.Measurements, "location %v recorded the previous cycle", d.Location)
	}
	for _, p := range svc.ProxyInfo() {
		assert.Equal(t, proxy.StatusNotFound, p.Status)
		assert.Empty(t, p.Data)
	}

	// The first entry is unaffected.
	assert.Equal(t, 21.5, svc.History()[0].Data[0].Measurements[weather.FieldTemperature])
}
