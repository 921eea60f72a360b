// Package feed orchestrates the pipeline: relay pool -> normalize ->
// metric extraction -> dedup -> supplementary join -> sorted, paginated
// output, with a cache in front and an optional background refresh task.
package feed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/mkarlsen/pacerelay/internal/cache"
	"github.com/mkarlsen/pacerelay/internal/dedup"
	"github.com/mkarlsen/pacerelay/internal/enrich"
	"github.com/mkarlsen/pacerelay/internal/logging"
	"github.com/mkarlsen/pacerelay/internal/metrics"
	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/normalize"
	"github.com/mkarlsen/pacerelay/internal/relay"
	"github.com/mkarlsen/pacerelay/internal/workout"
)

// Phase names one step of the assembly state machine. Phases are surfaced
// to callers as loading progress.
type Phase string

const (
	PhaseIdle                    Phase = "idle"
	PhaseFetchingPrimary         Phase = "fetchingPrimary"
	PhaseProcessingPrimary       Phase = "processingPrimary"
	PhaseFetchingSupplementary   Phase = "fetchingSupplementary"
	PhaseProcessingSupplementary Phase = "processingSupplementary"
	PhaseReady                   Phase = "ready"
	PhaseError                   Phase = "error"
	PhaseBackgroundRefreshing    Phase = "backgroundRefreshing"
)

// Config tunes the assembler.
type Config struct {
	PageSize           int           // records requested per network fetch
	DisplayStep        int           // display-limit increment for LoadMore
	CacheTTL           time.Duration // feed page cache lifetime
	FreshnessThreshold time.Duration // cached entries older than this get a background refresh
	RefreshInterval    time.Duration // background refresh cadence
}

func DefaultConfig() Config {
	return Config{
		PageSize:           100,
		DisplayStep:        20,
		CacheTTL:           10 * time.Minute,
		FreshnessThreshold: 2 * time.Minute,
		RefreshInterval:    5 * time.Minute,
	}
}

// Assembler builds enriched feed pages. One assembler serves one logical
// feed scope (the query passed to each call); accumulated state is kept per
// query signature inside the cache, while the in-memory working set belongs
// to the most recent query.
type Assembler struct {
	pool   relay.Pool
	joiner *enrich.Joiner
	dedup  *dedup.Deduplicator
	cache  cache.Cache
	logger *logging.Logger
	cfg    Config

	seq uint64 // monotonic build token, see applyBuild

	mu           sync.RWMutex
	phase        Phase
	errMsg       string
	query        models.FeedQuery
	querySig     string
	accumulated  []models.ActivityRecord
	supp         *models.Supplementary
	displayLimit int
	oldestSeen   int64 // network cursor: until-bound for the next page fetch
	pagesFetched int
	lastPageFull bool
	lastApplied  uint64
	lastUpdated  time.Time
}

// buildResult is one completed assembly, applied under the stale guard.
type buildResult struct {
	records []models.ActivityRecord
	supp    *models.Supplementary
}

// cachedFeed is the payload stored in the cache. It is JSON-serializable so
// the redis backend can round-trip it.
type cachedFeed struct {
	Records     []models.ActivityRecord `json:"records"`
	Supp        *models.Supplementary   `json:"supp"`
	LastPageFul bool                    `json:"lastPageFull"`
	LastUpdated time.Time               `json:"lastUpdated"`
}

// New creates an assembler that owns the given cache instance.
func New(pool relay.Pool, joiner *enrich.Joiner, deduper *dedup.Deduplicator, c cache.Cache, cfg Config, logger *logging.Logger) *Assembler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.DisplayStep <= 0 {
		cfg.DisplayStep = DefaultConfig().DisplayStep
	}
	return &Assembler{
		pool:   pool,
		joiner: joiner,
		dedup:  deduper,
		cache:  c,
		logger: logger,
		cfg:    cfg,
		phase:  PhaseIdle,
		supp:   models.NewSupplementary(),
	}
}

// querySignature derives the cache key from the filter scope. Display
// windowing (limit/offset) is local and excluded from the key.
func querySignature(q models.FeedQuery) string {
	scope := models.FeedQuery{
		Authors:      q.Authors,
		ActivityType: q.ActivityType,
		Since:        q.Since,
		Until:        q.Until,
	}
	data, err := json.Marshal(scope)
	if err != nil {
		return "feed:default"
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("feed:%x", sum[:8])
}

// GetFeed returns the feed for the query, serving from cache when a fresh
// entry exists. A cached entry older than the freshness threshold is still
// served, with a background refresh kicked off behind it.
func (a *Assembler) GetFeed(ctx context.Context, query models.FeedQuery) (models.FeedPage, error) {
	sig := querySignature(query)

	if cached, storedAt, ok := a.loadCached(sig); ok {
		metrics.CacheHits.Inc()
		a.adoptCached(query, sig, cached)

		if time.Since(storedAt) > a.cfg.FreshnessThreshold {
			go a.backgroundRefresh(query)
		}
		return a.Page(query), nil
	}
	metrics.CacheMisses.Inc()

	if err := a.build(ctx, query, sig, false); err != nil {
		return models.FeedPage{}, err
	}
	return a.Page(query), nil
}

// Refresh forces a full rebuild, bypassing the cache.
func (a *Assembler) Refresh(ctx context.Context, query models.FeedQuery) error {
	return a.build(ctx, query, querySignature(query), false)
}

// Invalidate drops the cached feed for the query's scope. Called after a
// write that could affect it, e.g. the viewer publishing a new record.
func (a *Assembler) Invalidate(query models.FeedQuery) {
	a.cache.Delete(querySignature(query))
}

// InvalidateAll drops every cached feed page.
func (a *Assembler) InvalidateAll() {
	a.cache.Clear()
}

// Phase returns the current state-machine phase and any error message.
func (a *Assembler) Phase() (Phase, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase, a.errMsg
}

func (a *Assembler) setPhase(p Phase, msg string) {
	a.mu.Lock()
	a.phase = p
	a.errMsg = msg
	a.mu.Unlock()
}

// build runs the full pipeline for the first network page of a query. The
// completion is applied under a monotonic sequence token so a slow build
// can never overwrite the results of a newer one that already finished.
func (a *Assembler) build(ctx context.Context, query models.FeedQuery, sig string, background bool) error {
	token := atomic.AddUint64(&a.seq, 1)
	started := time.Now()
	defer func() {
		metrics.AssemblyDuration.Observe(time.Since(started).Seconds())
	}()

	if background {
		a.setPhase(PhaseBackgroundRefreshing, "")
	} else {
		a.setPhase(PhaseFetchingPrimary, "")
	}

	raws, err := a.fetchPrimary(ctx, query)
	if err != nil {
		if !background {
			a.setPhase(PhaseError, err.Error())
		}
		return err
	}

	if !background {
		a.setPhase(PhaseProcessingPrimary, "")
	}
	records := a.processPrimary(raws)

	if !background {
		a.setPhase(PhaseFetchingSupplementary, "")
	}
	supp := a.joiner.Join(ctx, records)

	if !background {
		a.setPhase(PhaseProcessingSupplementary, "")
	}

	applied := a.applyBuild(token, query, sig, buildResult{records: records, supp: supp}, len(raws))
	if !applied {
		metrics.StaleCompletions.Inc()
		a.logger.Debug("Discarded stale feed build", logging.WithField("token", token))
		return nil
	}

	a.setPhase(PhaseReady, "")
	a.storeCached(sig)
	return nil
}

// fetchPrimary queries for workout records, falling back to a broader
// content-match search over plain notes before giving up. Only the case
// where both queries come back empty-or-failed surfaces as an error.
func (a *Assembler) fetchPrimary(ctx context.Context, query models.FeedQuery) ([]relay.RawEvent, error) {
	primary := relay.Filter{
		Kinds:   []int{relay.KindWorkout},
		Authors: query.Authors,
		Since:   query.Since,
		Until:   query.Until,
		Limit:   a.cfg.PageSize,
	}

	raws, err := a.pool.Fetch(ctx, primary)
	if err == nil && len(raws) > 0 {
		return raws, nil
	}
	if err != nil {
		a.logger.Warn("Primary fetch failed, trying fallback query", logging.WithField("error", err.Error()))
	}

	fallback := relay.Filter{
		Kinds:   []int{relay.KindNote},
		Authors: query.Authors,
		Since:   query.Since,
		Until:   query.Until,
		Topics:  []string{"running", "workout", "fitness"},
		Search:  "workout",
		Limit:   a.cfg.PageSize,
	}

	fallbackRaws, fallbackErr := a.pool.Fetch(ctx, fallback)
	if fallbackErr == nil && len(fallbackRaws) > 0 {
		return fallbackRaws, nil
	}

	return nil, fmt.Errorf("no workout records found and fallback search returned nothing: try again later")
}

// processPrimary normalizes, extracts metrics, sorts, and deduplicates a
// raw batch.
func (a *Assembler) processPrimary(raws []relay.RawEvent) []models.ActivityRecord {
	records := normalize.All(raws)
	for i := range records {
		records[i].Metrics = workout.ExtractMetrics(records[i])
	}
	sortByCreatedAt(records)

	before := len(records)
	records = a.dedup.Fold(records)
	if dropped := before - len(records); dropped > 0 {
		metrics.DedupDropped.Add(float64(dropped))
	}
	return records
}

// applyBuild installs a completed build unless a newer one already landed.
func (a *Assembler) applyBuild(token uint64, query models.FeedQuery, sig string, result buildResult, rawCount int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if token <= a.lastApplied {
		return false
	}
	a.lastApplied = token

	a.query = query
	a.querySig = sig
	a.accumulated = result.records
	a.supp = result.supp
	a.lastPageFull = rawCount >= a.cfg.PageSize
	a.pagesFetched = 1
	a.oldestSeen = oldestCreatedAt(result.records)
	a.lastUpdated = time.Now()
	if a.displayLimit == 0 || a.displayLimit > len(result.records) {
		a.displayLimit = min(a.cfg.DisplayStep, len(result.records))
	}
	return true
}

func (a *Assembler) backgroundRefresh(query models.FeedQuery) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.build(ctx, query, querySignature(query), true); err != nil {
		// Invisible to callers; previously displayed content stays valid.
		a.logger.Warn("Background refresh failed", logging.WithField("error", err.Error()))
	}
	a.setPhase(PhaseReady, "")
}

// StartBackgroundRefresh runs periodic rebuilds until the returned stop
// function is called or ctx is done. The caller owns the handle and must
// stop it on teardown.
func (a *Assembler) StartBackgroundRefresh(ctx context.Context, query models.FeedQuery) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(a.cfg.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.backgroundRefresh(query)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

func (a *Assembler) loadCached(sig string) (*cachedFeed, time.Time, bool) {
	raw, storedAt, ok := a.cache.GetWithAge(sig)
	if !ok || raw == nil {
		return nil, time.Time{}, false
	}

	if cf, ok := raw.(*cachedFeed); ok {
		return cf, storedAt, true
	}

	// Redis round-trips payloads through JSON; re-decode.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, time.Time{}, false
	}
	var cf cachedFeed
	if err := json.Unmarshal(data, &cf); err != nil || len(cf.Records) == 0 {
		return nil, time.Time{}, false
	}
	return &cf, storedAt, true
}

// adoptCached installs a cache hit as the working set, without disturbing a
// newer in-memory state for the same scope.
func (a *Assembler) adoptCached(query models.FeedQuery, sig string, cf *cachedFeed) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.querySig == sig && a.lastUpdated.After(cf.LastUpdated) {
		return
	}

	a.query = query
	a.querySig = sig
	// Copy out of the cached payload; the working set is mutable and the
	// cache entry must stay frozen.
	a.accumulated = append([]models.ActivityRecord(nil), cf.Records...)
	a.supp = cf.Supp.Clone()
	a.lastPageFull = cf.LastPageFul
	a.pagesFetched = 1
	a.oldestSeen = oldestCreatedAt(cf.Records)
	a.lastUpdated = cf.LastUpdated
	if a.displayLimit == 0 {
		a.displayLimit = min(a.cfg.DisplayStep, len(cf.Records))
	}
	a.phase = PhaseReady
	a.errMsg = ""
}

func (a *Assembler) storeCached(sig string) {
	// Snapshot, don't alias: the working set is sorted and merged in place
	// as later pages arrive, and a cached payload must never change after
	// it is stored.
	a.mu.RLock()
	cf := &cachedFeed{
		Records:     append([]models.ActivityRecord(nil), a.accumulated...),
		Supp:        a.supp.Clone(),
		LastPageFul: a.lastPageFull,
		LastUpdated: a.lastUpdated,
	}
	a.mu.RUnlock()

	a.cache.SetWithTTL(sig, cf, a.cfg.CacheTTL)
}

func sortByCreatedAt(records []models.ActivityRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
}

func oldestCreatedAt(records []models.ActivityRecord) int64 {
	oldest := int64(0)
	for i := range records {
		if oldest == 0 || (records[i].CreatedAt > 0 && records[i].CreatedAt < oldest) {
			oldest = records[i].CreatedAt
		}
	}
	return oldest
}
