package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crawlkeep/crawlkeep/internal/ratelimit"
	"github.com/crawlkeep/crawlkeep/internal/scraper"
	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
	"github.com/crawlkeep/crawlkeep/internal/speculate"
	"github.com/crawlkeep/crawlkeep/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fastConfig returns a Config tuned for local httptest servers: a
// near-unthrottled rate limiter and short retry delays so the pool drains
// in well under a second of simulated backoff instead of the real
// defaults (which assume a remote, rate-limited target).
func fastConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "crawlkeep.db")
	cfg.ArchiveDir = filepath.Join(t.TempDir(), "archives")
	cfg.MaxWorkers = 4
	cfg.InitialWorkers = 2
	cfg.Retry.BaseDelay = 20 * time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Second
	cfg.RateLimit = ratelimit.Config{
		BucketSize:        100,
		InitialTokens:     100,
		InitialRate:       1000,
		InitialCongestion: 1000,
		FirstStep:         1.5,
		SecondStep:        1.2,
		MinRate:           0.01,
		MaxRate:           1000,
	}
	return cfg
}

func TestRunHappyPathPersistsParsedData(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("hello quotes"))
	}))
	defer srv.Close()

	def := scraper.NewRegistry("quotes_happy", "1.0")
	def.Continuation("parse", func(resp *scraper.Response) ([]scraper.Yield, error) {
		return []scraper.Yield{scraper.ParsedData{
			ResultType: "item",
			Payload:    map[string]any{"body": string(resp.Body)},
		}}, nil
	})
	def.Entry("start", false, func(inv scraper.EntryInvocation) ([]scraper.Yield, error) {
		return []scraper.Yield{scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{
			Method: "GET", URL: srv.URL, Continuation: "parse",
		}}}, nil
	})

	cfg := fastConfig(t)
	d, err := New(context.Background(), cfg, def, Callbacks{}, testLogger)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if _, err := d.Run(ctx, []scraper.EntryInvocation{{EntryName: "start"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly 1 request to reach the server, got %d", got)
	}

	results, err := d.ListResults(ctx, "item", nil, 0, 10)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].IsValid {
		t.Error("expected result to be valid")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(results[0].DataJSON), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["body"] != "hello quotes" {
		t.Errorf("expected body %q, got %q", "hello quotes", payload["body"])
	}

	gotResult, err := d.GetResult(ctx, results[0].ID)
	if err != nil || gotResult == nil {
		t.Fatalf("get result: %v", err)
	}
	if gotResult.DataJSON != results[0].DataJSON {
		t.Errorf("GetResult disagreed with ListResults")
	}

	responses, err := d.ListResponses(ctx, "parse", 0, 10)
	if err != nil || len(responses) != 1 {
		t.Fatalf("list responses: %v (%d rows)", err, len(responses))
	}

	respRow, body, err := d.GetResponse(ctx, responses[0].ID)
	if err != nil || respRow == nil {
		t.Fatalf("get response: %v", err)
	}
	if string(body) != "hello quotes" {
		t.Errorf("expected decompressed body %q, got %q", "hello quotes", body)
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Pending != 0 || status.InProgress != 0 {
		t.Errorf("expected a fully drained run, got %+v", status)
	}
}

func TestRunRetriesTransientFetchFailure(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	def := scraper.NewRegistry("quotes_retry", "1.0")
	def.Entry("start", false, func(inv scraper.EntryInvocation) ([]scraper.Yield, error) {
		return []scraper.Yield{scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{
			Method: "GET", URL: srv.URL,
		}}}, nil
	})

	cfg := fastConfig(t)
	d, err := New(context.Background(), cfg, def, Callbacks{}, testLogger)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	runID, err := d.Run(ctx, []scraper.EntryInvocation{{EntryName: "start"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("expected 2 attempts (1 failure + 1 success), got %d", got)
	}

	reqs, err := d.ListRequests(ctx, store.ListRequestsFilter{RunID: runID})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request row, got %d", len(reqs))
	}
	if reqs[0].Status != store.Completed {
		t.Errorf("expected completed status, got %s", reqs[0].Status)
	}
	if reqs[0].RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", reqs[0].RetryCount)
	}
}

func TestRunMarksFailedOnStructuralError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	def := scraper.NewRegistry("quotes_structural", "1.0")
	def.Continuation("parse", func(resp *scraper.Response) ([]scraper.Yield, error) {
		return nil, scrapeerr.NewStructural(resp.FinalURL, ".quote", "css", "expected at least one quote block", 1, nil, 0)
	})
	def.Entry("start", false, func(inv scraper.EntryInvocation) ([]scraper.Yield, error) {
		return []scraper.Yield{scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{
			Method: "GET", URL: srv.URL, Continuation: "parse",
		}}}, nil
	})

	var structuralErrs int32
	cb := Callbacks{OnStructuralError: func(err *scrapeerr.Error) bool {
		atomic.AddInt32(&structuralErrs, 1)
		return false
	}}

	cfg := fastConfig(t)
	d, err := New(context.Background(), cfg, def, cb, testLogger)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	runID, err := d.Run(ctx, []scraper.EntryInvocation{{EntryName: "start"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := atomic.LoadInt32(&structuralErrs); got != 1 {
		t.Fatalf("expected OnStructuralError to fire once, got %d", got)
	}

	reqs, err := d.ListRequests(ctx, store.ListRequestsFilter{RunID: runID})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Status != store.Failed {
		t.Fatalf("expected 1 failed request, got %+v", reqs)
	}
	if reqs[0].LastError == nil || *reqs[0].LastError == "" {
		t.Error("expected last_error to be recorded")
	}
}

func TestRunArchivesBinaryPayload(t *testing.T) {
	const payload = "binary-ish-content"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	def := scraper.NewRegistry("quotes_archive", "1.0")
	def.Entry("start", false, func(inv scraper.EntryInvocation) ([]scraper.Yield, error) {
		return []scraper.Yield{scraper.ArchiveRequest{
			BaseRequest:  scraper.BaseRequest{Method: "GET", URL: srv.URL},
			ExpectedType: "bin",
		}}, nil
	})

	var archived *store.ArchivedFile
	cb := Callbacks{OnArchive: func(f *store.ArchivedFile) { archived = f }}

	cfg := fastConfig(t)
	d, err := New(context.Background(), cfg, def, cb, testLogger)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if _, err := d.Run(ctx, []scraper.EntryInvocation{{EntryName: "start"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if archived == nil {
		t.Fatal("expected OnArchive to fire")
	}
	sum := sha256.Sum256([]byte(payload))
	wantHash := hex.EncodeToString(sum[:])
	if archived.ContentHash != wantHash {
		t.Errorf("expected content hash %s, got %s", wantHash, archived.ContentHash)
	}
	wantPath := filepath.Join(cfg.ArchiveDir, wantHash+".bin")
	if archived.FilePath != wantPath {
		t.Errorf("expected file path %s, got %s", wantPath, archived.FilePath)
	}
	body, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read archived file: %v", err)
	}
	if string(body) != payload {
		t.Errorf("expected archived body %q, got %q", payload, body)
	}
}

// TestRunFeedsSpeculativeIDs exercises the ticker-driven speculative feed
// loop rather than Wait, since a live Explorer keeps extending its
// ceiling on every success and would otherwise never let the pool go
// idle.
func TestRunFeedsSpeculativeIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id int
		fmt.Sscanf(r.URL.Path, "/item/%d", &id)
		if id <= 2 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	def := scraper.NewRegistry("quotes_speculate", "1.0")
	def.Speculate(scraper.SpeculationConfig{
		FunctionName: "probe",
		Start:        1,
		Plus:         2,
		BuildRequest: func(id int64) scraper.NavigatingRequest {
			return scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{
				Method: "GET", URL: fmt.Sprintf("%s/item/%d", srv.URL, id),
			}}
		},
	})

	cfg := fastConfig(t)
	d, err := New(context.Background(), cfg, def, Callbacks{}, testLogger)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := d.Run(ctx, nil); err != nil {
		cancel()
		t.Fatalf("run: %v", err)
	}

	var snap speculate.State
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap = d.SpeculationSnapshot("probe")
		if snap.HighestSuccessfulID == 2 && snap.ConsecutiveFailures >= 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	time.Sleep(50 * time.Millisecond) // let the feed goroutine observe cancellation
	d.Close()

	if snap.HighestSuccessfulID != 2 {
		t.Fatalf("expected highest successful id 2, got %d", snap.HighestSuccessfulID)
	}
	if snap.ConsecutiveFailures < 1 {
		t.Errorf("expected at least 1 recorded failure past the ceiling, got %d", snap.ConsecutiveFailures)
	}
}

func TestRequeueErrorClonesFailedRequestAsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	def := scraper.NewRegistry("quotes_requeue", "1.0")
	def.Continuation("parse", func(resp *scraper.Response) ([]scraper.Yield, error) {
		return nil, fmt.Errorf("parser exploded")
	})
	def.Entry("start", false, func(inv scraper.EntryInvocation) ([]scraper.Yield, error) {
		return []scraper.Yield{scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{
			Method: "GET", URL: srv.URL, Continuation: "parse",
		}}}, nil
	})

	cfg := fastConfig(t)
	d, err := New(context.Background(), cfg, def, Callbacks{}, testLogger)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	runID, err := d.Run(ctx, []scraper.EntryInvocation{{EntryName: "start"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	reqs, err := d.ListRequests(ctx, store.ListRequestsFilter{RunID: runID})
	if err != nil || len(reqs) != 1 {
		t.Fatalf("list requests: %v (%d rows)", err, len(reqs))
	}
	if reqs[0].Status != store.Failed {
		t.Fatalf("expected request to have failed, got %s", reqs[0].Status)
	}

	errs, err := d.ListErrors(ctx, "", "", true, 0, 10)
	if err != nil || len(errs) != 1 {
		t.Fatalf("list errors: %v (%d rows)", err, len(errs))
	}

	res, err := d.RequeueError(ctx, errs[0].ID)
	if err != nil {
		t.Fatalf("requeue error: %v", err)
	}
	if len(res.RequeuedRequestIDs) != 1 || len(res.ResolvedErrorIDs) != 1 {
		t.Fatalf("expected one cloned request and one resolved error, got %+v", res)
	}

	cloned, err := d.GetRequest(ctx, res.RequeuedRequestIDs[0])
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if cloned.Status != store.Pending {
		t.Errorf("expected cloned request to be pending, got %s", cloned.Status)
	}
	if cloned.ParentID == nil || *cloned.ParentID != reqs[0].ID {
		t.Errorf("expected cloned request's parent to be the original failed request")
	}

	resolvedErrs, err := d.ListErrors(ctx, "", "", true, 0, 10)
	if err != nil || len(resolvedErrs) != 0 {
		t.Fatalf("expected no unresolved errors left, got %v, %d rows", err, len(resolvedErrs))
	}

	if _, err := d.RequeueError(ctx, errs[0].ID); err == nil {
		t.Error("expected requeuing an already-resolved error to fail")
	}
}

func TestCancelAndCancelByContinuation(t *testing.T) {
	def := scraper.NewRegistry("quotes_cancel", "1.0")
	def.Continuation("parse", func(resp *scraper.Response) ([]scraper.Yield, error) { return nil, nil })
	def.Continuation("other", func(resp *scraper.Response) ([]scraper.Yield, error) { return nil, nil })
	def.Entry("start", false, func(inv scraper.EntryInvocation) ([]scraper.Yield, error) {
		return []scraper.Yield{
			scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{Method: "GET", URL: "http://example.invalid/a", Continuation: "parse"}},
			scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{Method: "GET", URL: "http://example.invalid/b", Continuation: "parse"}},
			scraper.NavigatingRequest{BaseRequest: scraper.BaseRequest{Method: "GET", URL: "http://example.invalid/c", Continuation: "other"}},
		}, nil
	})

	cfg := fastConfig(t)
	cfg.InitialWorkers = 0 // nothing dequeues, so every seed stays pending
	d, err := New(context.Background(), cfg, def, Callbacks{}, testLogger)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	runID, err := d.Run(ctx, []scraper.EntryInvocation{{EntryName: "start"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	reqs, err := d.ListRequests(ctx, store.ListRequestsFilter{RunID: runID})
	if err != nil || len(reqs) != 3 {
		t.Fatalf("list requests: %v (%d rows)", err, len(reqs))
	}

	n, err := d.CancelByContinuation(ctx, runID, "parse")
	if err != nil {
		t.Fatalf("cancel by continuation: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 requests cancelled, got %d", n)
	}

	var thirdID int64
	for _, r := range reqs {
		if r.Continuation == "other" {
			thirdID = r.ID
		}
	}
	ok, err := d.Cancel(ctx, thirdID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel to report a row affected")
	}

	after, err := d.ListRequests(ctx, store.ListRequestsFilter{RunID: runID})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	for _, r := range after {
		if r.Status != store.Failed {
			t.Errorf("expected all 3 requests cancelled (failed), got id=%d status=%s", r.ID, r.Status)
		}
	}

	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
