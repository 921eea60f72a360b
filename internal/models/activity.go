package models

// ActivityRecord is one normalized user-submitted workout post. The shape is
// canonical: every record has a non-nil Tags slice and an ID/AuthorID pair,
// regardless of how ragged the raw event was.
type ActivityRecord struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"authorId"`
	Kind      int        `json:"kind"`
	CreatedAt int64      `json:"createdAt"` // unix seconds; 0 means unknown
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`

	Metrics DerivedMetrics `json:"metrics"`
}

// Tag returns the values of the first tag whose key matches, or nil.
// First match wins; later duplicates are ignored.
func (r *ActivityRecord) Tag(key string) []string {
	for _, t := range r.Tags {
		if len(t) > 0 && t[0] == key {
			return t[1:]
		}
	}
	return nil
}

// TagValue returns the first value of the first tag matching key, or "".
func (r *ActivityRecord) TagValue(key string) string {
	vals := r.Tag(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// DerivedMetrics holds the numeric fields parsed out of a record's tags.
// All fields default to zero and are never negative. A zero DistanceKm means
// the record carries no usable distance and is excluded from rollups.
type DerivedMetrics struct {
	DistanceKm      float64 `json:"distanceKm"`
	DurationSeconds int     `json:"durationSeconds"`
	ActivityType    string  `json:"activityType"`
	Calories        int     `json:"calories"`
	ElevationGainM  float64 `json:"elevationGainM"`
	SpeedKmh        float64 `json:"speedKmh,omitempty"`
	PaceMinPerKm    float64 `json:"paceMinPerKm,omitempty"`
}

// HasDistance reports whether the record contributes to distance rollups.
func (m DerivedMetrics) HasDistance() bool {
	return m.DistanceKm > 0
}

// Canonical activity types after synonym collapse.
const (
	ActivityRun   = "run"
	ActivityCycle = "cycle"
	ActivityWalk  = "walk"
)
