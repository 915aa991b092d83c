package crawlkeep

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/crawlkeep/crawlkeep/internal/scraper"
)

func newTestScraper(name string, ts *httptest.Server) *scraper.Scraper {
	s := scraper.NewRegistry(name, "1.0")
	s.Entry("start", false, func(inv scraper.EntryInvocation) ([]scraper.Yield, error) {
		return []scraper.Yield{scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{
			Method: http.MethodGet, URL: ts.URL, Continuation: "parse",
		}}}, nil
	})
	s.Continuation("parse", func(resp *scraper.Response) ([]scraper.Yield, error) {
		return []scraper.Yield{scraper.ParsedData{ResultType: "page", Payload: map[string]any{"status": resp.StatusCode}}}, nil
	})
	return s
}

func TestKeeperStartRunsRegisteredScraperToCompletion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html></html>"))
	}))
	defer ts.Close()

	k := New(
		WithDBPath(filepath.Join(t.TempDir(), "crawlkeep.db")),
		WithArchiveDir(filepath.Join(t.TempDir(), "archives")),
		WithMaxWorkers(4),
		WithInitialWorkers(2),
		WithCatalog(scraper.NewCatalog()),
	)

	if err := k.Register(newTestScraper("sdk-test", ts)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	runID, err := k.Start(ctx, "sdk-test", scraper.EntryInvocation{EntryName: "start"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if runID == "" {
		t.Fatal("expected non-empty run id")
	}

	if err := k.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKeeperStartRejectsUnknownScraperName(t *testing.T) {
	k := New(
		WithDBPath(filepath.Join(t.TempDir(), "crawlkeep.db")),
		WithCatalog(scraper.NewCatalog()),
	)
	_, err := k.Start(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected error for unregistered scraper name")
	}
}
