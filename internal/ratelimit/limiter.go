// Package ratelimit enforces a minimum interval between requests to the
// same host. Relay fetches go through a shared Limiter so a refresh burst
// cannot hammer a single endpoint.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks the last request time per host and spaces requests by a
// fixed minimum interval. Different hosts never block each other.
type Limiter struct {
	mu          sync.Mutex
	hosts       map[string]*hostState
	minInterval time.Duration
}

type hostState struct {
	mu   sync.Mutex
	last time.Time
}

// New creates a limiter with the given minimum interval between requests to
// the same host. A zero interval disables limiting.
func New(minInterval time.Duration) *Limiter {
	return &Limiter{
		hosts:       make(map[string]*hostState),
		minInterval: minInterval,
	}
}

func (l *Limiter) host(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hosts[host]
	if !ok {
		h = &hostState{}
		l.hosts[host] = h
	}
	return h
}

// Allow reports whether a request to host may proceed now. It records the
// request time only when it returns true.
func (l *Limiter) Allow(host string) bool {
	h := l.host(host)
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if h.last.IsZero() || now.Sub(h.last) >= l.minInterval {
		h.last = now
		return true
	}
	return false
}

// Wait blocks until a request to host may proceed, then records it.
func (l *Limiter) Wait(host string) {
	h := l.host(host)
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.last.IsZero() {
		if remaining := l.minInterval - time.Since(h.last); remaining > 0 {
			time.Sleep(remaining)
		}
	}
	h.last = time.Now()
}

// Reset clears the recorded request time for host.
func (l *Limiter) Reset(host string) {
	h := l.host(host)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = time.Time{}
}

// ResetAll clears all recorded request times.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts = make(map[string]*hostState)
}
