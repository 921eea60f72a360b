package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mkarlsen/pacerelay/internal/logging"
	"github.com/mkarlsen/pacerelay/internal/metrics"
	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/ratelimit"
	"github.com/mkarlsen/pacerelay/internal/retry"
)

// ErrSourceUnavailable means no relay in the pool produced a usable
// response for a fetch.
var ErrSourceUnavailable = errors.New("no relay responded")

// Pool is what the rest of the pipeline sees of the relay set.
type Pool interface {
	Fetch(ctx context.Context, filter Filter) ([]RawEvent, error)
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
	Status() []models.RelayStatus
	Close()
}

// PoolConfig tunes per-relay fetch behavior.
type PoolConfig struct {
	FetchTimeout time.Duration // budget for one relay attempt
	MaxAttempts  int
	BaseDelay    time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		FetchTimeout: 10 * time.Second,
		MaxAttempts:  2,
		BaseDelay:    500 * time.Millisecond,
	}
}

// WebsocketPool fans a fetch out to every relay in parallel and merges the
// results. Individual relay failures are absorbed; the pool only errors
// when every relay failed.
type WebsocketPool struct {
	relays  []*relayHandle
	limiter *ratelimit.Limiter
	logger  *logging.Logger
	cfg     PoolConfig
}

type relayHandle struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker[[]RawEvent]

	mu          sync.Mutex
	lastSuccess time.Time
	lastFailure time.Time
}

type fetchResult struct {
	relay  string
	events []RawEvent
	err    error
}

// NewPool builds a pool over the given relay URLs.
func NewPool(urls []string, limiter *ratelimit.Limiter, cfg PoolConfig, logger *logging.Logger) *WebsocketPool {
	relays := make([]*relayHandle, 0, len(urls))
	for _, u := range urls {
		relays = append(relays, newRelayHandle(u, logger))
	}
	return &WebsocketPool{
		relays:  relays,
		limiter: limiter,
		logger:  logger,
		cfg:     cfg,
	}
}

func newRelayHandle(relayURL string, logger *logging.Logger) *relayHandle {
	cb := gobreaker.NewCircuitBreaker[[]RawEvent](gobreaker.Settings{
		Name:        relayURL,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Relay circuit breaker state change", logging.WithFields(map[string]interface{}{
				"relay": name,
				"from":  from.String(),
				"to":    to.String(),
			}))
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &relayHandle{
		client:  NewClient(relayURL),
		breaker: cb,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Fetch queries every relay in parallel and merges the results. Duplicate
// event ids across relays are expected here; collapsing them is the
// normalizer/dedup stage's job.
func (p *WebsocketPool) Fetch(ctx context.Context, filter Filter) ([]RawEvent, error) {
	filter = filter.NormalizeLimit()

	var wg sync.WaitGroup
	results := make(chan fetchResult, len(p.relays))

	for _, handle := range p.relays {
		wg.Add(1)
		go func(h *relayHandle) {
			defer wg.Done()

			events, err := p.fetchOne(ctx, h, filter)
			results <- fetchResult{relay: h.client.URL(), events: events, err: err}
		}(handle)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	merged := make([]RawEvent, 0)
	failures := 0
	for result := range results {
		if result.err != nil {
			failures++
			p.logger.Warn("Relay fetch failed", logging.WithFields(map[string]interface{}{
				"relay": result.relay,
				"error": result.err.Error(),
			}))
			continue
		}
		merged = append(merged, result.events...)
	}

	if failures == len(p.relays) && len(merged) == 0 {
		return nil, fmt.Errorf("%w: %d relays failed", ErrSourceUnavailable, failures)
	}

	return merged, nil
}

func (p *WebsocketPool) fetchOne(ctx context.Context, h *relayHandle, filter Filter) ([]RawEvent, error) {
	host := h.client.Host()

	var events []RawEvent
	result := retry.Do(ctx, func(ctx context.Context) error {
		p.limiter.Wait(host)

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()

		got, err := h.breaker.Execute(func() ([]RawEvent, error) {
			return h.client.Fetch(attemptCtx, filter)
		})
		if err != nil {
			return err
		}
		events = got
		return nil
	}, p.cfg.MaxAttempts, p.cfg.BaseDelay)

	h.mu.Lock()
	if result.OK {
		h.lastSuccess = time.Now()
	} else {
		h.lastFailure = time.Now()
	}
	h.mu.Unlock()

	outcome := "ok"
	if !result.OK {
		outcome = "error"
		if errors.Is(result.Err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.RelayFetches.WithLabelValues(h.client.URL(), outcome).Inc()
		return nil, result.Err
	}

	metrics.RelayFetches.WithLabelValues(h.client.URL(), outcome).Inc()
	return events, nil
}

// Subscribe opens a live subscription on every relay and merges the streams
// into one. Closing the returned subscription closes all underlying ones.
func (p *WebsocketPool) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	filter = filter.NormalizeLimit()

	subs := make([]*Subscription, 0, len(p.relays))
	for _, h := range p.relays {
		sub, err := h.client.Stream(ctx, filter)
		if err != nil {
			p.logger.Warn("Relay subscribe failed", logging.WithFields(map[string]interface{}{
				"relay": h.client.URL(),
				"error": err.Error(),
			}))
			continue
		}
		subs = append(subs, sub)
	}

	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: subscribe failed on all relays", ErrSourceUnavailable)
	}

	out := make(chan RawEvent, 64)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			for {
				select {
				case ev, ok := <-s.Events:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-stop:
						return
					}
				case <-stop:
					return
				}
			}
		}(sub)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return &Subscription{
		Events: out,
		closeFn: func() {
			close(stop)
			for _, sub := range subs {
				sub.Close()
			}
		},
	}, nil
}

// Status reports per-relay health for the sources API.
func (p *WebsocketPool) Status() []models.RelayStatus {
	statuses := make([]models.RelayStatus, 0, len(p.relays))
	for _, h := range p.relays {
		h.mu.Lock()
		lastSuccess, lastFailure := h.lastSuccess, h.lastFailure
		h.mu.Unlock()

		state := h.breaker.State()
		statuses = append(statuses, models.RelayStatus{
			URL:         h.client.URL(),
			Healthy:     state == gobreaker.StateClosed && (lastFailure.IsZero() || lastSuccess.After(lastFailure)),
			State:       state.String(),
			LastSuccess: lastSuccess,
			LastFailure: lastFailure,
		})
	}
	return statuses
}

// Close tears down every relay connection. The pool is the connection
// lifecycle owner; nothing else may close clients directly.
func (p *WebsocketPool) Close() {
	for _, h := range p.relays {
		h.client.Close()
	}
}

var _ Pool = (*WebsocketPool)(nil)
