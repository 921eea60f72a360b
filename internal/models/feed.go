package models

import "time"

// EnrichedRecord is an activity record plus its joined supplementary data,
// ready for display.
type EnrichedRecord struct {
	ActivityRecord
	Author     *Profile   `json:"author,omitempty"`
	Engagement Engagement `json:"engagement"`
	Comments   []Comment  `json:"comments"`
}

// FeedQuery scopes a feed request. Zero values mean "unscoped".
type FeedQuery struct {
	Authors      []string `json:"authors,omitempty"`
	ActivityType string   `json:"activityType,omitempty"`
	Since        int64    `json:"since,omitempty"`
	Until        int64    `json:"until,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Offset       int      `json:"offset,omitempty"`
}

// LoadingProgress describes which pipeline phase a feed build is in. It is
// surfaced to callers as a best-effort diagnostic, not a contract.
type LoadingProgress struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
}

// FeedPage is the assembled, sorted, paginated output of one feed build.
type FeedPage struct {
	Records     []EnrichedRecord `json:"records"`
	HasMore     bool             `json:"hasMore"`
	TotalCount  int              `json:"totalCount"`
	Progress    LoadingProgress  `json:"loadingProgress"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// LeaderboardEntry is one author's distance rollup over the current feed
// window. Records with zeroed metrics do not contribute.
type LeaderboardEntry struct {
	AuthorID   string  `json:"authorId"`
	Name       string  `json:"name,omitempty"`
	Rank       int     `json:"rank"`
	DistanceKm float64 `json:"distanceKm"`
	Workouts   int     `json:"workouts"`
}

// RelayStatus describes one relay endpoint in the pool for the sources API.
type RelayStatus struct {
	URL         string    `json:"url"`
	Healthy     bool      `json:"healthy"`
	State       string    `json:"state"` // circuit breaker state
	LastSuccess time.Time `json:"lastSuccess,omitzero"`
	LastFailure time.Time `json:"lastFailure,omitzero"`
}
