package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

// StatusNotFound is the sentinel status stored when a fetch gets no response.
const StatusNotFound = http.StatusNotFound

// State is the last fetched payload and status of a proxy.
type State struct {
	Payload string
	Status  int
	Fetched bool
}

// Proxy owns one outbound request target and its last fetched response.
// The URL never changes after construction.
type Proxy struct {
	url     string
	fetcher Fetcher

	mu    sync.RWMutex
	state State
}

// New builds a proxy whose URL is template with every ${key} placeholder
// replaced by params[key]; unknown keys resolve to "".
func New(template string, params map[string]string, fetcher Fetcher) *Proxy {
	return &Proxy{
		url:     ResolveURL(template, params),
		fetcher: fetcher,
	}
}

// ResolveURL substitutes ${key} placeholders in template. Keys are matched
// exactly first and then case-insensitively, since config keys arrive
// lowercased. Unknown keys resolve to "".
func ResolveURL(template string, params map[string]string) string {
	var folded map[string]string
	return os.Expand(template, func(key string) string {
		if v, ok := params[key]; ok {
			return v
		}
		if folded == nil {
			folded = make(map[string]string, len(params))
			for k, v := range params {
				folded[strings.ToLower(k)] = v
			}
		}
		return folded[strings.ToLower(key)]
	})
}

// URL returns the resolved request URL.
func (p *Proxy) URL() string {
	return p.url
}

// State returns the most recent fetch result.
func (p *Proxy) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Refresh performs one blocking fetch of the URL and stores the result.
// A connection failure is recorded as an empty payload with StatusNotFound
// and is not returned. Cancellation is recorded the same way but returned.
// Other errors are returned and leave the state as is.
func (p *Proxy) Refresh(ctx context.Context) error {
	resp, err := p.fetcher.Fetch(ctx, p.url)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.markUnreachable()
			return fmt.Errorf("fetch canceled: %w", err)
		}
		if !IsConnectionFailure(err) {
			return fmt.Errorf("fetch failed: %w", err)
		}
		p.markUnreachable()
		return nil
	}

	p.mu.Lock()
	p.state = State{Payload: resp.Body, Status: resp.Status, Fetched: true}
	p.mu.Unlock()
	return nil
}

// markUnreachable records that no response was received.
func (p *Proxy) markUnreachable() {
	p.mu.Lock()
	p.state = State{Status: StatusNotFound, Fetched: true}
	p.mu.Unlock()
}
