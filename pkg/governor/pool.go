package governor

import (
	"sync"
	"time"
)

// Endpoint represents one backend RPC endpoint with error bookkeeping.
// Endpoints are created once at startup and never removed; only the
// governor mutates them, and only on request failure.
type Endpoint struct {
	URL         string
	ErrorCount  int
	LastErrorAt time.Time
}

// CoolingDown reports whether the endpoint is still inside its
// post-error cooldown window at the given time.
func (e *Endpoint) CoolingDown(now time.Time, cooldown time.Duration) bool {
	if e.LastErrorAt.IsZero() {
		return false
	}
	return now.Before(e.LastErrorAt.Add(cooldown))
}

// EndpointInfo is a copy of an endpoint's state for status reporting.
type EndpointInfo struct {
	URL         string    `json:"url"`
	Active      bool      `json:"active"`
	ErrorCount  int       `json:"errorCount"`
	LastErrorAt time.Time `json:"lastErrorAt,omitempty"`
	CoolingDown bool      `json:"coolingDown"`
}

// Pool holds the ordered list of candidate endpoints and tracks which
// one is active. Rotation is round-robin over the configured order,
// skipping endpoints still in cooldown.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	idx       int
	cooldown  time.Duration
}

// NewPool creates a pool from the configured endpoint URLs, preserving
// order and dropping duplicates.
func NewPool(urls []string, cooldown time.Duration) (*Pool, error) {
	seen := make(map[string]bool, len(urls))
	endpoints := make([]*Endpoint, 0, len(urls))
	for _, url := range urls {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		endpoints = append(endpoints, &Endpoint{URL: url})
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return &Pool{
		endpoints: endpoints,
		cooldown:  cooldown,
	}, nil
}

// Current returns the active endpoint.
func (p *Pool) Current() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.idx]
}

// Rotate advances to the next endpoint not in cooldown, wrapping after
// the last entry. It inspects at most len(endpoints) candidates; if
// every endpoint is cooling down it leaves the active endpoint
// unchanged and returns false, and the caller must wait rather than
// spin.
func (p *Pool) Rotate(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	for i := 1; i <= n; i++ {
		idx := (p.idx + i) % n
		if !p.endpoints[idx].CoolingDown(now, p.cooldown) {
			p.idx = idx
			return true
		}
	}
	return false
}

// RecordError increments the endpoint's error count and stamps its
// last-error time, starting its cooldown window.
func (p *Pool) RecordError(ep *Endpoint, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.ErrorCount++
	ep.LastErrorAt = now
}

// Len returns the number of configured endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Snapshot returns a copy of every endpoint's state.
func (p *Pool) Snapshot(now time.Time) []EndpointInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]EndpointInfo, len(p.endpoints))
	for i, ep := range p.endpoints {
		infos[i] = EndpointInfo{
			URL:         ep.URL,
			Active:      i == p.idx,
			ErrorCount:  ep.ErrorCount,
			LastErrorAt: ep.LastErrorAt,
			CoolingDown: ep.CoolingDown(now, p.cooldown),
		}
	}
	return infos
}
