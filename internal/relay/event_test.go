package relay

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestFilterMarshalJSON_WireShape(t *testing.T) {
	f := Filter{
		Kinds:   []int{KindWorkout},
		Authors: []string{"alice", "bob"},
		RefIDs:  []string{"e1"},
		PubRefs: []string{"p1"},
		Topics:  []string{"running"},
		Since:   1000,
		Until:   2000,
		Limit:   50,
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var wire map[string]interface{}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	for _, key := range []string{"kinds", "authors", "#e", "#p", "#t", "since", "until", "limit"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("wire filter missing %q key", key)
		}
	}
	for _, key := range []string{"RefIDs", "PubRefs", "Topics", "refids", "topics", "search"} {
		if _, ok := wire[key]; ok {
			t.Errorf("wire filter leaked struct field %q", key)
		}
	}
	if got := wire["limit"].(float64); got != 50 {
		t.Errorf("limit = %v, want 50", got)
	}
}

func TestFilterMarshalJSON_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Filter{Kinds: []int{KindNote}, Limit: 10})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var wire map[string]interface{}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if len(wire) != 2 {
		t.Errorf("wire filter has %d keys %v, want only kinds and limit", len(wire), wire)
	}
}

func TestFilterMarshalJSON_LimitAlwaysSent(t *testing.T) {
	data, err := json.Marshal(Filter{Kinds: []int{KindNote}}.NormalizeLimit())
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var wire map[string]interface{}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got, ok := wire["limit"]; !ok || got.(float64) != DefaultLimit {
		t.Errorf("limit = %v, want default %d", got, DefaultLimit)
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"unset", 0, DefaultLimit},
		{"negative", -5, DefaultLimit},
		{"explicit", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter{Limit: tt.limit}.NormalizeLimit().Limit
			if got != tt.want {
				t.Errorf("NormalizeLimit().Limit = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFilterMatches_Search(t *testing.T) {
	tests := []struct {
		name    string
		search  string
		content string
		want    bool
	}{
		{"no search matches everything", "", "anything", true},
		{"case-insensitive match", "Workout", "great WORKOUT today", true},
		{"substring match", "run", "morning running session", true},
		{"no match", "swim", "morning run", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Filter{Search: tt.search}
			got := f.Matches(RawEvent{Content: tt.content})
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRawEventDecode(t *testing.T) {
	wire := `{"id":"abc","pubkey":"alice","created_at":1700000000,"kind":1301,` +
		`"tags":[["distance","5.00","km"],["t","running"]],"content":"5k done","sig":"ff"}`

	var ev RawEvent
	if err := json.Unmarshal([]byte(wire), &ev); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if ev.ID != "abc" || ev.PubKey != "alice" || ev.Kind != KindWorkout {
		t.Errorf("decoded event = %+v", ev)
	}
	if len(ev.Tags) != 2 || ev.Tags[0][0] != "distance" {
		t.Errorf("Tags = %v", ev.Tags)
	}
}
