// Package enrich joins supplementary data onto a batch of primary activity
// records: author profiles, reactions, reposts, zaps, and comments. The
// five secondary kinds are fetched in parallel and a failure in any one of
// them degrades that contribution to empty rather than failing the join.
package enrich

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mkarlsen/pacerelay/internal/identity"
	"github.com/mkarlsen/pacerelay/internal/logging"
	"github.com/mkarlsen/pacerelay/internal/metrics"
	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/relay"
)

// Joiner fetches and aggregates supplementary records for primary batches.
type Joiner struct {
	pool     relay.Pool
	viewer   identity.Provider
	logger   *logging.Logger
	timeout  time.Duration
	maxItems int
}

// New creates a joiner. timeout bounds each secondary fetch independently.
func New(pool relay.Pool, viewer identity.Provider, timeout time.Duration, logger *logging.Logger) *Joiner {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Joiner{
		pool:     pool,
		viewer:   viewer,
		logger:   logger,
		timeout:  timeout,
		maxItems: 500,
	}
}

// Join fetches all five secondary kinds for the batch and aggregates them
// into a bundle. It never returns an error: per-kind failures are logged
// and that kind's contribution stays empty. Counts and comment lists are
// rebuilt wholesale from the fetched events, never merged incrementally.
func (j *Joiner) Join(ctx context.Context, records []models.ActivityRecord) *models.Supplementary {
	bundle := models.NewSupplementary()
	if len(records) == 0 {
		return bundle
	}

	ids := make([]string, 0, len(records))
	authorSet := make(map[string]bool)
	authors := make([]string, 0)
	for i := range records {
		ids = append(ids, records[i].ID)
		if !authorSet[records[i].AuthorID] {
			authorSet[records[i].AuthorID] = true
			authors = append(authors, records[i].AuthorID)
		}
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		profiles  []relay.RawEvent
		reactions []relay.RawEvent
		reposts   []relay.RawEvent
		zaps      []relay.RawEvent
		comments  []relay.RawEvent
	)

	fetch := func(kindName string, filter relay.Filter, out *[]relay.RawEvent) {
		defer wg.Done()

		fetchCtx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()

		events, err := j.pool.Fetch(fetchCtx, filter)
		if err != nil {
			metrics.JoinFailures.WithLabelValues(kindName).Inc()
			j.logger.Warn("Supplementary fetch failed", logging.WithFields(map[string]interface{}{
				"kind":  kindName,
				"error": err.Error(),
			}))
			return
		}

		mu.Lock()
		*out = events
		mu.Unlock()
	}

	wg.Add(5)
	go fetch("profile", relay.Filter{Kinds: []int{relay.KindProfile}, Authors: authors, Limit: j.maxItems}, &profiles)
	go fetch("reaction", relay.Filter{Kinds: []int{relay.KindReaction}, RefIDs: ids, Limit: j.maxItems}, &reactions)
	go fetch("repost", relay.Filter{Kinds: []int{relay.KindRepost}, RefIDs: ids, Limit: j.maxItems}, &reposts)
	go fetch("zap", relay.Filter{Kinds: []int{relay.KindZapReceipt}, RefIDs: ids, Limit: j.maxItems}, &zaps)
	go fetch("comment", relay.Filter{Kinds: []int{relay.KindComment}, RefIDs: ids, Limit: j.maxItems}, &comments)
	wg.Wait()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	viewerID := ""
	if j.viewer != nil {
		viewerID = j.viewer.ViewerID()
	}

	j.applyProfiles(bundle, profiles)
	j.applyReactions(bundle, reactions, idSet, viewerID)
	j.applyReposts(bundle, reposts, idSet, viewerID)
	j.applyZaps(bundle, zaps, idSet)
	j.applyComments(bundle, comments, idSet)

	return bundle
}

// refID returns the parent event id a supplementary event points at.
func refID(ev relay.RawEvent) string {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == "e" {
			return t[1]
		}
	}
	return ""
}

func (j *Joiner) applyProfiles(bundle *models.Supplementary, events []relay.RawEvent) {
	// Keep the newest kind-0 per author; relays can hold stale revisions.
	latest := make(map[string]relay.RawEvent)
	for _, ev := range events {
		if cur, ok := latest[ev.PubKey]; !ok || ev.CreatedAt > cur.CreatedAt {
			latest[ev.PubKey] = ev
		}
	}

	for pubkey, ev := range latest {
		var meta struct {
			Name    string `json:"name"`
			Picture string `json:"picture"`
			About   string `json:"about"`
		}
		if err := json.Unmarshal([]byte(ev.Content), &meta); err != nil {
			continue
		}
		bundle.Profiles[pubkey] = models.Profile{
			PubKey:  pubkey,
			Name:    meta.Name,
			Picture: meta.Picture,
			About:   meta.About,
		}
	}
}

func (j *Joiner) applyReactions(bundle *models.Supplementary, events []relay.RawEvent, idSet map[string]bool, viewerID string) {
	for _, ev := range events {
		ref := refID(ev)
		if !idSet[ref] {
			continue
		}
		e := bundle.EngagementFor(ref)
		e.Reactions++
		if viewerID != "" && ev.PubKey == viewerID {
			e.ViewerReacted = true
		}
	}
}

func (j *Joiner) applyReposts(bundle *models.Supplementary, events []relay.RawEvent, idSet map[string]bool, viewerID string) {
	for _, ev := range events {
		ref := refID(ev)
		if !idSet[ref] {
			continue
		}
		e := bundle.EngagementFor(ref)
		e.Reposts++
		if viewerID != "" && ev.PubKey == viewerID {
			e.ViewerReposted = true
		}
	}
}

func (j *Joiner) applyZaps(bundle *models.Supplementary, events []relay.RawEvent, idSet map[string]bool) {
	for _, ev := range events {
		ref := refID(ev)
		if !idSet[ref] {
			continue
		}
		e := bundle.EngagementFor(ref)
		e.Zaps++
		e.ZapSats += zapAmountSats(ev)
	}
}

// zapAmountSats reads the explicit amount tag (millisats) and converts to
// sats. A zap without an amount counts as one unit.
func zapAmountSats(ev relay.RawEvent) int {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == "amount" {
			msats, err := strconv.Atoi(t[1])
			if err != nil || msats <= 0 {
				return 1
			}
			return msats / 1000
		}
	}
	return 1
}

func (j *Joiner) applyComments(bundle *models.Supplementary, events []relay.RawEvent, idSet map[string]bool) {
	for _, ev := range events {
		ref := refID(ev)
		if !idSet[ref] {
			continue
		}
		bundle.Comments[ref] = append(bundle.Comments[ref], models.Comment{
			ID:        ev.ID,
			RefID:     ref,
			AuthorID:  ev.PubKey,
			CreatedAt: ev.CreatedAt,
			Content:   ev.Content,
		})
	}

	for ref := range bundle.Comments {
		list := bundle.Comments[ref]
		sort.SliceStable(list, func(i, k int) bool {
			return list[i].CreatedAt < list[k].CreatedAt
		})
	}
}
