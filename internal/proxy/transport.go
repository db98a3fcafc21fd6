package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
)

// Response is the outcome of one outbound GET that reached the server.
// Any status code counts as a response.
type Response struct {
	Body   string
	Status int
}

// Fetcher performs a single outbound GET.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (Response, error) {
	return f(ctx, url)
}

// FetcherFactory returns the Fetcher used by every proxy of a source.
type FetcherFactory func(source string) Fetcher

// BreakerConfig controls the per-source circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32 // trip threshold; 0 uses the gobreaker default
}

// HTTPClientConfig bundles the HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Timeout time.Duration // per fetch; 0 leaves it to the client
	Breaker BreakerConfig
}

var (
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// Transport issues outbound requests for the proxies, with one circuit
// breaker per source. Only connection failures count against a breaker.
type Transport struct {
	cfg    HTTPClientConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewTransport creates a new Transport.
func NewTransport(cfg HTTPClientConfig, logger *slog.Logger) *Transport {
	return &Transport{
		cfg:      cfg,
		logger:   logger.With("component", "transport"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// ForSource returns the Fetcher for one source. Calls with the same name
// share a breaker.
func (t *Transport) ForSource(name string) Fetcher {
	return &sourceFetcher{transport: t, circuit: t.breaker(name)}
}

func (t *Transport) breaker(name string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cb, ok := t.breakers[name]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: t.cfg.Breaker.MaxRequests,
		Interval:    t.cfg.Breaker.Interval,
		Timeout:     t.cfg.Breaker.Timeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("circuit breaker state changed", "source", name, "from", from.String(), "to", to.String())
		},
	}
	if n := t.cfg.Breaker.ConsecutiveFailures; n > 0 {
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	t.breakers[name] = cb
	return cb
}

type sourceFetcher struct {
	transport *Transport
	circuit   *gobreaker.CircuitBreaker
}

// passthrough carries a non-connection error through the breaker without
// counting it as a failure.
type passthrough struct {
	err error
}

func (f *sourceFetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	cfg := f.transport.cfg
	if cfg.Client == nil {
		return Response{}, errNoHTTPClient
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, err
	}

	result, err := f.circuit.Execute(func() (interface{}, error) {
		resp, execErr := cfg.Client.Do(req)
		if execErr != nil {
			if IsConnectionFailure(execErr) {
				return nil, execErr
			}
			return passthrough{err: execErr}, nil
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			if IsConnectionFailure(readErr) {
				return nil, readErr
			}
			return passthrough{err: readErr}, nil
		}

		return Response{Body: string(body), Status: resp.StatusCode}, nil
	})

	if err != nil {
		// If circuit is open, report it as a connection failure.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Response{}, fmt.Errorf("%w: %w", errCircuitOpen, err)
		}
		return Response{}, err
	}

	switch r := result.(type) {
	case Response:
		return r, nil
	case passthrough:
		return Response{}, r.err
	default:
		return Response{}, fmt.Errorf("unexpected result type from circuit breaker")
	}
}

// IsConnectionFailure reports whether err means no response was received
// from the server: refused or unreachable hosts, DNS failures, resets,
// timeouts and open circuit breakers. Caller cancellation is not one.
func IsConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// *url.Error satisfies net.Error for every failure, so look inside it.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
