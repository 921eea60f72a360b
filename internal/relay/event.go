// Package relay implements the source pool: a set of redundant Nostr relay
// endpoints queried in parallel for events matching a filter. The rest of
// the pipeline only sees the Pool interface; everything websocket-shaped
// stays in here.
package relay

import (
	"strings"

	"github.com/goccy/go-json"
)

// Event kinds the pipeline cares about.
const (
	KindProfile    = 0
	KindNote       = 1
	KindRepost     = 6
	KindReaction   = 7
	KindComment    = 1111
	KindWorkout    = 1301
	KindZapReceipt = 9735
)

// RawEvent is a relay event exactly as it arrives on the wire. Signature
// verification is the relay layer's concern upstream of us and is not
// re-done here.
type RawEvent struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Filter selects events by kind, author, tag, and time range. Limit is
// always sent; NormalizeLimit applies the default when a caller leaves it
// unset.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	RefIDs  []string // "#e" tag filter: events referencing these event ids
	PubRefs []string // "#p" tag filter: events referencing these pubkeys
	Topics  []string // "#t" tag filter
	Since   int64    // inclusive lower bound, 0 = unbounded
	Until   int64    // exclusive upper bound, 0 = unbounded
	Search  string   // free-text content match, applied client side
	Limit   int
}

// DefaultLimit caps result counts when a caller does not supply one.
const DefaultLimit = 100

// NormalizeLimit returns a copy of f with Limit defaulted.
func (f Filter) NormalizeLimit() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	return f
}

// MarshalJSON encodes the filter in the relay wire shape, where tag filters
// are keyed "#e", "#p", "#t".
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, 8)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.RefIDs) > 0 {
		m["#e"] = f.RefIDs
	}
	if len(f.PubRefs) > 0 {
		m["#p"] = f.PubRefs
	}
	if len(f.Topics) > 0 {
		m["#t"] = f.Topics
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	m["limit"] = f.Limit
	return json.Marshal(m)
}

// Matches applies the client-side parts of the filter (Search) to an event.
// Relays do not all support content search, so it is re-checked here.
func (f Filter) Matches(ev RawEvent) bool {
	if f.Search == "" {
		return true
	}
	return containsFold(ev.Content, f.Search)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
