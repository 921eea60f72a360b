package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/mkarlsen/pacerelay/internal/cache"
	"github.com/mkarlsen/pacerelay/internal/dedup"
	"github.com/mkarlsen/pacerelay/internal/enrich"
	"github.com/mkarlsen/pacerelay/internal/feed"
	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/relay"
	"github.com/mkarlsen/pacerelay/internal/testutil"
)

type staticPool struct {
	workouts []relay.RawEvent
	statuses []models.RelayStatus
}

func (p *staticPool) Fetch(_ context.Context, filter relay.Filter) ([]relay.RawEvent, error) {
	if len(filter.Kinds) > 0 && filter.Kinds[0] == relay.KindWorkout {
		return p.workouts, nil
	}
	return nil, nil
}

func (p *staticPool) Subscribe(context.Context, relay.Filter) (*relay.Subscription, error) {
	return nil, errors.New("not supported")
}

func (p *staticPool) Status() []models.RelayStatus { return p.statuses }
func (p *staticPool) Close()                       {}

type allowAll struct{ allowed bool }

func (a *allowAll) Allow(string) bool { return a.allowed }

func newTestServer(t *testing.T, pool *staticPool, limiter *allowAll) *Server {
	t.Helper()
	logger := testutil.NullLogger()
	c := cache.NewMemory(time.Minute)
	t.Cleanup(c.Stop)

	joiner := enrich.New(pool, nil, time.Second, logger)
	assembler := feed.New(pool, joiner, dedup.New(dedup.DefaultTolerances()), c, feed.DefaultConfig(), logger)
	return New(assembler, pool, limiter, logger)
}

func testWorkouts() []relay.RawEvent {
	return []relay.RawEvent{
		{
			ID: "w1", PubKey: "alice", CreatedAt: 2000, Kind: relay.KindWorkout,
			Tags: [][]string{{"distance", "5.00", "km"}, {"activity_type", "run"}},
		},
		{
			ID: "w2", PubKey: "bob", CreatedAt: 1000, Kind: relay.KindWorkout,
			Tags: [][]string{{"distance", "20.00", "km"}, {"activity_type", "cycling"}},
		},
	}
}

func TestHandleGetFeed(t *testing.T) {
	s := newTestServer(t, &staticPool{workouts: testWorkouts()}, &allowAll{true})

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	rec := httptest.NewRecorder()
	s.handleGetFeed(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}

	var page models.FeedPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if page.TotalCount != 2 || len(page.Records) != 2 {
		t.Errorf("page = %+v, want both workouts", page)
	}
	if page.Records[0].ID != "w1" {
		t.Errorf("Records[0].ID = %s, want newest first", page.Records[0].ID)
	}
}

func TestHandleGetFeed_TypeFilter(t *testing.T) {
	s := newTestServer(t, &staticPool{workouts: testWorkouts()}, &allowAll{true})

	req := httptest.NewRequest(http.MethodGet, "/api/feed?type=cycle", nil)
	rec := httptest.NewRecorder()
	s.handleGetFeed(rec, req)

	var page models.FeedPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if page.TotalCount != 1 || page.Records[0].ID != "w2" {
		t.Errorf("filtered page = %+v, want only w2", page)
	}
}

func TestHandleGetFeed_Unavailable(t *testing.T) {
	s := newTestServer(t, &staticPool{}, &allowAll{true})

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	rec := httptest.NewRecorder()
	s.handleGetFeed(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when no source has records", rec.Code)
	}
}

func TestHandleGetFeed_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &staticPool{workouts: testWorkouts()}, &allowAll{true})

	req := httptest.NewRequest(http.MethodPost, "/api/feed", nil)
	rec := httptest.NewRecorder()
	s.handleGetFeed(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleLeaderboard(t *testing.T) {
	s := newTestServer(t, &staticPool{workouts: testWorkouts()}, &allowAll{true})

	// Leaderboard reads the accumulated window; populate it first.
	feedReq := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	s.handleGetFeed(httptest.NewRecorder(), feedReq)

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	rec := httptest.NewRecorder()
	s.handleLeaderboard(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Entries []models.LeaderboardEntry `json:"entries"`
		Count   int                       `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 2 || len(body.Entries) != 2 {
		t.Fatalf("body = %+v, want two entries", body)
	}
	if body.Entries[0].AuthorID != "bob" {
		t.Errorf("leader = %s, want bob with the longer distance", body.Entries[0].AuthorID)
	}
}

func TestHandleGetSources(t *testing.T) {
	pool := &staticPool{statuses: []models.RelayStatus{
		{URL: "wss://relay.example.com", Healthy: true, State: "closed"},
	}}
	s := newTestServer(t, pool, &allowAll{true})

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()
	s.handleGetSources(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Relays []models.RelayStatus `json:"relays"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Relays) != 1 || body.Relays[0].URL != "wss://relay.example.com" {
		t.Errorf("relays = %+v", body.Relays)
	}
}

func TestHandleRefresh_RateLimited(t *testing.T) {
	s := newTestServer(t, &staticPool{workouts: testWorkouts()}, &allowAll{false})

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	rec := httptest.NewRecorder()
	s.handleRefresh(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestHandleRefresh(t *testing.T) {
	s := newTestServer(t, &staticPool{workouts: testWorkouts()}, &allowAll{true})

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	rec := httptest.NewRecorder()
	s.handleRefresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &staticPool{workouts: testWorkouts()}, &allowAll{true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" || body["phase"] == "" {
		t.Errorf("health body = %v", body)
	}
}

func TestCorsMiddleware(t *testing.T) {
	s := newTestServer(t, &staticPool{workouts: testWorkouts()}, &allowAll{true})

	handler := s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/feed", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200 without invoking handler", rec.Code)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Allow-Origin = %q", origin)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, non-preflight request should reach the handler", rec.Code)
	}
}

func TestQueryFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/feed?type=run&authors=alice,%20bob,&limit=25&offset=5&since=1000&until=2000", nil)

	q := queryFromRequest(req)

	if q.ActivityType != "run" {
		t.Errorf("ActivityType = %s", q.ActivityType)
	}
	if len(q.Authors) != 2 || q.Authors[0] != "alice" || q.Authors[1] != "bob" {
		t.Errorf("Authors = %v, want trimmed alice, bob", q.Authors)
	}
	if q.Limit != 25 || q.Offset != 5 {
		t.Errorf("window = %d/%d, want 25/5", q.Limit, q.Offset)
	}
	if q.Since != 1000 || q.Until != 2000 {
		t.Errorf("range = %d..%d", q.Since, q.Until)
	}
}

func TestQueryFromRequest_LimitCapped(t *testing.T) {
	tests := []struct {
		name  string
		limit string
		want  int
	}{
		{"default", "", 50},
		{"over cap", "5000", 50},
		{"negative", "-1", 50},
		{"at cap", "200", 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/feed?limit="+tt.limit, nil)
			if got := queryFromRequest(req).Limit; got != tt.want {
				t.Errorf("Limit = %d, want %d", got, tt.want)
			}
		})
	}
}
