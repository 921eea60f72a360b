package feed

import (
	"context"
	"sort"
	"time"

	"github.com/mkarlsen/pacerelay/internal/logging"
	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/normalize"
	"github.com/mkarlsen/pacerelay/internal/relay"
	"github.com/mkarlsen/pacerelay/internal/workout"
)

// Page materializes the current display window as an enriched feed page.
// An explicit Limit/Offset in the query overrides the assembler's own
// display-limit cursor (the HTTP surface paginates that way). The lock is
// held through enrichment: fetchNextPage and the live stream sort and merge
// the working set in place, so nothing read here may outlive the lock.
func (a *Assembler) Page(query models.FeedQuery) models.FeedPage {
	a.mu.RLock()
	defer a.mu.RUnlock()

	filtered := filterByType(a.accumulated, query.ActivityType)
	total := len(filtered)

	start, end := 0, a.displayLimit
	if query.Limit > 0 {
		start = query.Offset
		end = query.Offset + query.Limit
	}
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	window := filtered[start:end]
	enriched := make([]models.EnrichedRecord, 0, len(window))
	for i := range window {
		enriched = append(enriched, enrichRecord(&window[i], a.supp))
	}

	return models.FeedPage{
		Records:     enriched,
		HasMore:     end < total || a.lastPageFull,
		TotalCount:  total,
		Progress:    models.LoadingProgress{Phase: string(a.phase), Message: a.errMsg},
		LastUpdated: a.lastUpdated,
	}
}

// LoadMore advances the display-limit cursor. It only goes to the network
// when every already-fetched record is displayed; otherwise it serves from
// the accumulated set.
func (a *Assembler) LoadMore(ctx context.Context, query models.FeedQuery) (models.FeedPage, error) {
	a.mu.Lock()
	if a.displayLimit < len(a.accumulated) {
		a.displayLimit = min(a.displayLimit+a.cfg.DisplayStep, len(a.accumulated))
		a.mu.Unlock()
		return a.Page(query), nil
	}
	until := a.oldestSeen
	a.mu.Unlock()

	if err := a.fetchNextPage(ctx, query, until); err != nil {
		a.logger.Warn("Load-more fetch failed", logging.WithField("error", err.Error()))
	}

	a.mu.Lock()
	a.displayLimit = min(a.displayLimit+a.cfg.DisplayStep, len(a.accumulated))
	a.mu.Unlock()

	return a.Page(query), nil
}

// fetchNextPage pulls the page older than the until cursor and merges it
// into the accumulated set. New records are deduplicated against the entire
// set seen so far, so a record cannot reappear after a cursor advance.
func (a *Assembler) fetchNextPage(ctx context.Context, query models.FeedQuery, until int64) error {
	filter := relay.Filter{
		Kinds:   []int{relay.KindWorkout},
		Authors: query.Authors,
		Since:   query.Since,
		Until:   until,
		Limit:   a.cfg.PageSize,
	}

	raws, err := a.pool.Fetch(ctx, filter)
	if err != nil {
		return err
	}

	fresh := normalize.All(raws)
	for i := range fresh {
		fresh[i].Metrics = workout.ExtractMetrics(fresh[i])
	}

	a.mu.Lock()
	accepted := make([]models.ActivityRecord, 0, len(fresh))
	for _, rec := range fresh {
		if a.dedup.IsDuplicate(rec, a.accumulated) || a.dedup.IsDuplicate(rec, accepted) {
			continue
		}
		accepted = append(accepted, rec)
	}
	a.accumulated = append(a.accumulated, accepted...)
	sortByCreatedAt(a.accumulated)
	a.pagesFetched++
	a.lastPageFull = len(raws) >= a.cfg.PageSize
	a.oldestSeen = oldestCreatedAt(a.accumulated)
	a.lastUpdated = time.Now()
	sig := a.querySig
	a.mu.Unlock()

	if len(accepted) > 0 {
		bundle := a.joiner.Join(ctx, accepted)
		a.mu.Lock()
		for id, e := range bundle.Engagement {
			a.supp.Engagement[id] = e
		}
		for id, list := range bundle.Comments {
			a.supp.Comments[id] = list
		}
		for pk, p := range bundle.Profiles {
			a.supp.Profiles[pk] = p
		}
		a.mu.Unlock()
	}

	if sig != "" {
		a.storeCached(sig)
	}
	return nil
}

// Leaderboard rolls up per-author distance over the accumulated window.
// Records with zeroed or out-of-bounds metrics do not contribute.
func (a *Assembler) Leaderboard(query models.FeedQuery) []models.LeaderboardEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	supp := a.supp
	filtered := filterByType(a.accumulated, query.ActivityType)

	totals := make(map[string]*models.LeaderboardEntry)
	order := make([]string, 0)
	for i := range filtered {
		rec := &filtered[i]
		if !rec.Metrics.HasDistance() {
			continue
		}
		entry, ok := totals[rec.AuthorID]
		if !ok {
			entry = &models.LeaderboardEntry{AuthorID: rec.AuthorID}
			if p, found := supp.Profiles[rec.AuthorID]; found {
				entry.Name = p.Name
			}
			totals[rec.AuthorID] = entry
			order = append(order, rec.AuthorID)
		}
		entry.DistanceKm += rec.Metrics.DistanceKm
		entry.Workouts++
	}

	entries := make([]models.LeaderboardEntry, 0, len(totals))
	for _, author := range order {
		entries = append(entries, *totals[author])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].DistanceKm > entries[j].DistanceKm
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// StartLive opens a live subscription for new workout records and folds
// them into the accumulated set as they arrive. The returned stop function
// must be called on teardown.
func (a *Assembler) StartLive(ctx context.Context, query models.FeedQuery) (stop func(), err error) {
	filter := relay.Filter{
		Kinds:   []int{relay.KindWorkout},
		Authors: query.Authors,
		Since:   time.Now().Unix(),
		Limit:   a.cfg.PageSize,
	}

	sub, err := a.pool.Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	go func() {
		for ev := range sub.Events {
			rec, ok := normalize.Normalize(ev)
			if !ok {
				continue
			}
			rec.Metrics = workout.ExtractMetrics(rec)

			a.mu.Lock()
			if a.dedup.IsDuplicate(rec, a.accumulated) {
				a.mu.Unlock()
				continue
			}
			a.accumulated = append(a.accumulated, rec)
			sortByCreatedAt(a.accumulated)
			a.lastUpdated = time.Now()
			sig := a.querySig
			a.mu.Unlock()

			if sig != "" {
				a.storeCached(sig)
			}
		}
	}()

	return sub.Close, nil
}

// filterByType restricts records to one canonical activity type. Records
// whose type never normalized to the closed set are excluded from
// type-filtered views but present in unfiltered ones.
func filterByType(records []models.ActivityRecord, activityType string) []models.ActivityRecord {
	if activityType == "" {
		return records
	}

	want := workout.Canonical(activityType)
	filtered := make([]models.ActivityRecord, 0, len(records))
	for i := range records {
		if records[i].Metrics.ActivityType == want {
			filtered = append(filtered, records[i])
		}
	}
	return filtered
}

func enrichRecord(rec *models.ActivityRecord, supp *models.Supplementary) models.EnrichedRecord {
	out := models.EnrichedRecord{
		ActivityRecord: *rec,
		Comments:       []models.Comment{},
	}
	if supp == nil {
		return out
	}
	if p, ok := supp.Profiles[rec.AuthorID]; ok {
		profile := p
		out.Author = &profile
	}
	if e, ok := supp.Engagement[rec.ID]; ok {
		out.Engagement = *e
	}
	if comments, ok := supp.Comments[rec.ID]; ok {
		out.Comments = comments
	}
	return out
}
