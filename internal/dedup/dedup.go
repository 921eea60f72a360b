// Package dedup collapses near-identical workout records from the same
// author. The same physical workout shows up more than once when multiple
// relays echo it verbatim, when a client retry republishes it under a new
// id, or when the user manually re-posts with the same caption. The tiered
// rules below trade strictness for recall across those three cases.
package dedup

import (
	"math"

	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/workout"
)

// Tolerances are the thresholds for the near-duplicate rules. They are
// policy, not protocol: the defaults were carried over from the original
// client and are not known to be optimal.
type Tolerances struct {
	DistanceEpsKm         float64 // rule 2: distance delta below this ...
	TimeWindowSeconds     int64   // ... within this many seconds
	DurationDistanceEpsKm float64 // rule 3: distance delta when durations match exactly
	ContentDistanceEpsKm  float64 // rule 4: distance delta for identical-caption reposts
	ContentWindowSeconds  int64   // rule 4: time window for identical-caption reposts
}

func DefaultTolerances() Tolerances {
	return Tolerances{
		DistanceEpsKm:         0.05,
		TimeWindowSeconds:     600,
		DurationDistanceEpsKm: 0.1,
		ContentDistanceEpsKm:  0.1,
		ContentWindowSeconds:  3600,
	}
}

type Deduplicator struct {
	tol Tolerances
}

func New(tol Tolerances) *Deduplicator {
	return &Deduplicator{tol: tol}
}

// IsDuplicate reports whether candidate duplicates any already-accepted
// record. Records must have their metrics extracted before this is called.
func (d *Deduplicator) IsDuplicate(candidate models.ActivityRecord, accepted []models.ActivityRecord) bool {
	for i := range accepted {
		if d.matches(candidate, &accepted[i]) {
			return true
		}
	}
	return false
}

// Fold filters records in order, keeping the first of every duplicate
// group. Folding is idempotent: running it over its own output changes
// nothing.
func (d *Deduplicator) Fold(records []models.ActivityRecord) []models.ActivityRecord {
	kept := make([]models.ActivityRecord, 0, len(records))
	for _, rec := range records {
		if d.IsDuplicate(rec, kept) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

func (d *Deduplicator) matches(a models.ActivityRecord, b *models.ActivityRecord) bool {
	// Exact same record echoed by multiple relays.
	if a.ID == b.ID {
		return true
	}

	if a.AuthorID != b.AuthorID {
		return false
	}

	distDelta := math.Abs(a.Metrics.DistanceKm - b.Metrics.DistanceKm)
	timeDelta := absInt64(a.CreatedAt - b.CreatedAt)

	// Client retry: same numbers republished under a new id shortly after.
	if distDelta < d.tol.DistanceEpsKm && timeDelta < d.tol.TimeWindowSeconds {
		return true
	}

	// Same workout re-posted later: exact duration match is a strong
	// signal regardless of time. Both durations must be present; two
	// records that merely lack the tag are not a match.
	if a.Metrics.DurationSeconds > 0 && a.Metrics.DurationSeconds == b.Metrics.DurationSeconds &&
		distDelta < d.tol.DurationDistanceEpsKm {
		return true
	}

	// Manual re-post with the same caption.
	if a.Content != "" && workout.Canonical(a.Content) == workout.Canonical(b.Content) &&
		distDelta < d.tol.ContentDistanceEpsKm && timeDelta < d.tol.ContentWindowSeconds {
		return true
	}

	return false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
