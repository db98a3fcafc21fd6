package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(timeout time.Duration, failures uint32) *Transport {
	return NewTransport(HTTPClientConfig{
		Client:  &http.Client{},
		Timeout: timeout,
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             time.Minute,
			ConsecutiveFailures: failures,
		},
	}, slog.New(slog.DiscardHandler))
}

// refusedURL returns the address of a server that has already been closed.
func refusedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]string
		want     string
	}{
		{
			name:     "all placeholders known",
			template: "https://example.com/weather?id=${id}&appid=${key}",
			params:   map[string]string{"id": "42", "key": "secret"},
			want:     "https://example.com/weather?id=42&appid=secret",
		},
		{
			name:     "missing placeholder resolves to empty",
			template: "https://example.com/weather?q=${city}&appid=${key}",
			params:   map[string]string{"city": "Paris"},
			want:     "https://example.com/weather?q=Paris&appid=",
		},
		{
			name:     "placeholder case does not matter",
			template: "https://example.com/weather?id=${cityId}&appid=${API_KEY}",
			params:   map[string]string{"cityid": "42", "api_key": "secret"},
			want:     "https://example.com/weather?id=42&appid=secret",
		},
		{
			name:     "exact match wins over folded match",
			template: "https://example.com/${Id}",
			params:   map[string]string{"Id": "exact", "id": "folded"},
			want:     "https://example.com/exact",
		},
		{
			name:     "no placeholders",
			template: "https://example.com/static",
			params:   nil,
			want:     "https://example.com/static",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveURL(tt.template, tt.params))
		})
	}
}

func TestProxyInitiallyAbsent(t *testing.T) {
	p := New("https://example.com/${id}", map[string]string{"id": "1"}, newTestTransport(0, 0).ForSource("s"))

	assert.Equal(t, "https://example.com/1", p.URL())
	assert.Equal(t, State{}, p.State())
}

func TestProxyRefreshStoresAnyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"down"}`)
	}))
	defer srv.Close()

	p := New(srv.URL+"/current", nil, newTestTransport(time.Second, 0).ForSource("s"))
	require.NoError(t, p.Refresh(context.Background()))

	st := p.State()
	assert.True(t, st.Fetched)
	assert.Equal(t, http.StatusServiceUnavailable, st.Status)
	assert.Equal(t, `{"error":"down"}`, st.Payload)
}

func TestProxyRefreshOverwritesPreviousData(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, "call-%d", calls)
	}))
	defer srv.Close()

	p := New(srv.URL, nil, newTestTransport(time.Second, 0).ForSource("s"))
	require.NoError(t, p.Refresh(context.Background()))
	require.NoError(t, p.Refresh(context.Background()))

	assert.Equal(t, "call-2", p.State().Payload)
}

func TestProxyRefreshConnectionRefused(t *testing.T) {
	p := New(refusedURL(t), nil, newTestTransport(time.Second, 0).ForSource("s"))

	require.NoError(t, p.Refresh(context.Background()))

	st := p.State()
	assert.True(t, st.Fetched)
	assert.Equal(t, StatusNotFound, st.Status)
	assert.Empty(t, st.Payload)
}

func TestProxyRefreshTimeoutIsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	p := New(srv.URL, nil, newTestTransport(50*time.Millisecond, 0).ForSource("s"))
	require.NoError(t, p.Refresh(context.Background()))

	assert.Equal(t, State{Status: StatusNotFound, Fetched: true}, p.State())
}

func TestProxyRefreshPropagatesOtherErrors(t *testing.T) {
	p := New("ftp://example.com/${id}", map[string]string{"id": "1"}, newTestTransport(time.Second, 0).ForSource("s"))

	err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, IsConnectionFailure(err))
	assert.False(t, p.State().Fetched, "state must be left untouched")
}

func TestProxyRefreshPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New("http://example.com/", nil, newTestTransport(0, 0).ForSource("s"))
	err := p.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, State{Status: StatusNotFound, Fetched: true}, p.State())
}

func TestProxyCancellationDropsPreviousPayload(t *testing.T) {
	var cancelled atomic.Bool
	f := FetcherFunc(func(ctx context.Context, url string) (Response, error) {
		if cancelled.Load() {
			return Response{}, ctx.Err()
		}
		return Response{Body: "old", Status: http.StatusOK}, nil
	})

	p := New("http://example.com/", nil, f)
	require.NoError(t, p.Refresh(context.Background()))
	require.Equal(t, "old", p.State().Payload)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled.Store(true)

	assert.ErrorIs(t, p.Refresh(ctx), context.Canceled)
	assert.Equal(t, State{Status: StatusNotFound, Fetched: true}, p.State())
}

func TestTransportBreakerOpensOnConnectionFailures(t *testing.T) {
	tr := newTestTransport(time.Second, 1)
	f := tr.ForSource("flaky")
	target := refusedURL(t)

	_, err := f.Fetch(context.Background(), target)
	require.Error(t, err)
	assert.True(t, IsConnectionFailure(err))

	_, err = f.Fetch(context.Background(), target)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, IsConnectionFailure(err))

	// Other sources keep their own breaker.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	resp, err := tr.ForSource("healthy").Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body)
}

func TestTransportBreakerIgnoresNonConnectionErrors(t *testing.T) {
	tr := newTestTransport(time.Second, 1)
	f := tr.ForSource("s")

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), "ftp://example.com/")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
}

func TestTransportWithoutClient(t *testing.T) {
	tr := NewTransport(HTTPClientConfig{}, slog.New(slog.DiscardHandler))

	_, err := tr.ForSource("s").Fetch(context.Background(), "http://example.com/")
	assert.ErrorIs(t, err, errNoHTTPClient)
}

func TestIsConnectionFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"caller cancellation", fmt.Errorf("get: %w", context.Canceled), false},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"circuit open", fmt.Errorf("%w: %w", errCircuitOpen, gobreaker.ErrOpenState), true},
		{
			name: "dial refused",
			err:  &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}},
			want: true,
		},
		{
			name: "dns failure",
			err:  &url.Error{Op: "Get", URL: "http://x", Err: &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}},
			want: true,
		},
		{
			name: "unsupported scheme",
			err:  &url.Error{Op: "Get", URL: "ftp://x", Err: errors.New(`unsupported protocol scheme "ftp"`)},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionFailure(tt.err))
		})
	}
}
