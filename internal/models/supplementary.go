package models

// Profile is the author metadata fetched from kind-0 events.
type Profile struct {
	PubKey  string `json:"pubkey"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	About   string `json:"about,omitempty"`
}

// Comment is a reply attached to an activity record.
type Comment struct {
	ID        string `json:"id"`
	RefID     string `json:"refId"`
	AuthorID  string `json:"authorId"`
	CreatedAt int64  `json:"createdAt"`
	Content   string `json:"content"`
}

// Engagement aggregates the supplementary counts for one activity record.
// Counts are recomputed wholesale on every join, never mutated in place.
type Engagement struct {
	Reactions int `json:"reactions"`
	Reposts   int `json:"reposts"`
	Zaps      int `json:"zaps"`
	ZapSats   int `json:"zapSats"` // total tipped amount in sats

	// Viewer flags are false when no viewer identity is available.
	ViewerReacted  bool `json:"viewerReacted"`
	ViewerReposted bool `json:"viewerReposted"`
}

// Supplementary is the joined secondary data for a batch of primary records,
// keyed by the parent record id (engagement, comments) and author pubkey
// (profiles).
type Supplementary struct {
	Engagement map[string]*Engagement `json:"engagement"`
	Comments   map[string][]Comment   `json:"comments"`
	Profiles   map[string]Profile     `json:"profiles"`
}

// NewSupplementary returns an empty bundle with all maps allocated.
func NewSupplementary() *Supplementary {
	return &Supplementary{
		Engagement: make(map[string]*Engagement),
		Comments:   make(map[string][]Comment),
		Profiles:   make(map[string]Profile),
	}
}

// Clone returns a deep copy of the bundle. A bundle handed to the cache (or
// adopted from it) must not alias the live one, which is merged and
// rewritten in place as later pages arrive. Clone on a nil bundle returns
// an empty one.
func (s *Supplementary) Clone() *Supplementary {
	out := NewSupplementary()
	if s == nil {
		return out
	}
	for id, e := range s.Engagement {
		copied := *e
		out.Engagement[id] = &copied
	}
	for id, list := range s.Comments {
		out.Comments[id] = append([]Comment(nil), list...)
	}
	for pubkey, p := range s.Profiles {
		out.Profiles[pubkey] = p
	}
	return out
}

// EngagementFor returns the bundle's engagement entry for id, allocating it
// on first use.
func (s *Supplementary) EngagementFor(id string) *Engagement {
	e, ok := s.Engagement[id]
	if !ok {
		e = &Engagement{}
		s.Engagement[id] = e
	}
	return e
}
