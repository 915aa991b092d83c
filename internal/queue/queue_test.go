package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/crawlkeep/crawlkeep/internal/scraper"
	"github.com/crawlkeep/crawlkeep/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRun(t *testing.T, s *store.Store) string {
	t.Helper()
	run := &store.Run{ID: "run-1", ScraperName: "testscraper"}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run.ID
}

func TestCanonicalizeURLSortsQueryAndStripsDefaults(t *testing.T) {
	got := CanonicalizeURL("HTTP://Example.com:80/a/b/?z=2&a=1#frag")
	want := "http://example.com/a/b?a=1&z=2"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestEnqueueDedupCycleYieldsExactlyTwoRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID := seedRun(t, s)

	ec := EnqueueContext{RunID: runID, BaseURL: "https://example.com/a"}

	idA, err := Enqueue(ctx, s, ec, scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{Method: "GET", URL: "https://example.com/a"}})
	if err != nil || idA == 0 {
		t.Fatalf("enqueue a: id=%d err=%v", idA, err)
	}
	idB, err := Enqueue(ctx, s, ec, scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{Method: "GET", URL: "https://example.com/b"}})
	if err != nil || idB == 0 {
		t.Fatalf("enqueue b: id=%d err=%v", idB, err)
	}
	// re-enqueue /a: must be a silent no-op, not a third row.
	idA2, err := Enqueue(ctx, s, ec, scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{Method: "GET", URL: "https://example.com/a"}})
	if err != nil {
		t.Fatalf("re-enqueue a: %v", err)
	}
	if idA2 != 0 {
		t.Fatalf("expected silent dedup no-op, got id=%d", idA2)
	}

	rows, err := s.ListRequests(ctx, store.ListRequestsFilter{RunID: runID, Limit: 10})
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected exactly 2 rows, got %d", len(rows))
	}
}

func TestEnqueueResolvesRelativeURLAgainstResponseContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID := seedRun(t, s)

	ec := ContextFromResponse(runID, 1, &scraper.Response{FinalURL: "https://example.com/listing/page-1"})
	id, err := Enqueue(ctx, s, ec, scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{Method: "GET", URL: "../item/42"}})
	if err != nil || id == 0 {
		t.Fatalf("enqueue: id=%d err=%v", id, err)
	}
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if req.URL != "https://example.com/item/42" {
		t.Fatalf("expected resolved URL, got %q", req.URL)
	}
}

func TestEnqueueResolvesRelativeURLAgainstParentRequestContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID := seedRun(t, s)

	parentID, err := s.InsertRequest(ctx, &store.Request{
		RunID: runID, RequestType: store.Navigating, Method: "GET",
		URL: "https://example.com/listing/page-1",
	})
	if err != nil || parentID == 0 {
		t.Fatalf("insert parent: id=%d err=%v", parentID, err)
	}
	parent, err := s.GetRequest(ctx, parentID)
	if err != nil {
		t.Fatalf("GetRequest parent: %v", err)
	}

	ec, err := ContextFromParentRequest(parent)
	if err != nil {
		t.Fatalf("ContextFromParentRequest: %v", err)
	}
	id, err := Enqueue(ctx, s, ec, scraper.NonNavigatingRequest{BaseRequest: scraper.BaseRequest{Method: "GET", URL: "asset/image.png"}})
	if err != nil || id == 0 {
		t.Fatalf("enqueue: id=%d err=%v", id, err)
	}
	child, err := s.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetRequest child: %v", err)
	}
	if child.URL != "https://example.com/listing/asset/image.png" {
		t.Fatalf("unexpected resolved URL %q", child.URL)
	}
	if child.ParentID == nil || *child.ParentID != parentID {
		t.Fatalf("expected parent_id=%d, got %+v", parentID, child.ParentID)
	}
}

func TestSiblingAccumulatedDataIsIndependentAfterEnqueue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID := seedRun(t, s)

	resp := &scraper.Response{
		FinalURL:        "https://example.com/listing",
		AccumulatedData: map[string]any{"title": "shared", "tags": []any{"a"}},
	}
	ec := ContextFromResponse(runID, 1, resp)

	id1, err := Enqueue(ctx, s, ec, scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{URL: "https://example.com/item/1", Method: "GET"}})
	if err != nil || id1 == 0 {
		t.Fatalf("enqueue 1: id=%d err=%v", id1, err)
	}
	id2, err := Enqueue(ctx, s, ec, scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{URL: "https://example.com/item/2", Method: "GET"}})
	if err != nil || id2 == 0 {
		t.Fatalf("enqueue 2: id=%d err=%v", id2, err)
	}

	// mutate the shared map the caller still holds; this must not be
	// observable in either already-persisted sibling row.
	resp.AccumulatedData["title"] = "mutated"

	r1, _ := s.GetRequest(ctx, id1)
	r2, _ := s.GetRequest(ctx, id2)
	if r1.AccumulatedDataJSON == r2.AccumulatedDataJSON && r1.AccumulatedDataJSON == "" {
		t.Fatalf("expected non-empty accumulated data json")
	}
	if want := `"title":"shared"`; !contains(r1.AccumulatedDataJSON, want) {
		t.Fatalf("sibling 1 should retain original title, got %s", r1.AccumulatedDataJSON)
	}
	if want := `"title":"shared"`; !contains(r2.AccumulatedDataJSON, want) {
		t.Fatalf("sibling 2 should retain original title, got %s", r2.AccumulatedDataJSON)
	}
}

func TestPermanentDataChildOverridesParentOnKeyCollision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID := seedRun(t, s)

	ec := EnqueueContext{
		RunID:     runID,
		BaseURL:   "https://example.com/",
		Permanent: map[string]any{"site": "example", "region": "us"},
	}
	id, err := Enqueue(ctx, s, ec, scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{
		Method:    "GET",
		URL:       "https://example.com/page",
		Permanent: map[string]any{"region": "eu"},
	}})
	if err != nil || id == 0 {
		t.Fatalf("enqueue: id=%d err=%v", id, err)
	}
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if !contains(req.PermanentJSON, `"region":"eu"`) {
		t.Fatalf("expected child region to override parent, got %s", req.PermanentJSON)
	}
	if !contains(req.PermanentJSON, `"site":"example"`) {
		t.Fatalf("expected inherited site key to survive, got %s", req.PermanentJSON)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
