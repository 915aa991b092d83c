package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/crawlkeep/crawlkeep/internal/store"
)

// writeTestConfig points cfgFile at a minimal YAML file overriding only the
// storage path, and resets it after the test so other tests aren't affected
// by the package-level cfgFile var this CLI shares with cobra's flag binding.
func writeTestConfig(t *testing.T, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crawlkeep.yaml")
	contents := "storage:\n  db_path: " + dbPath + "\n  archive_dir: " + filepath.Join(dir, "archives") + "\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
}

// seedFailedRequest inserts a failed request together with the error row
// that would have been recorded when it failed, returning the error id.
func seedFailedRequest(t *testing.T, dbPath string) int64 {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	run := &store.Run{ID: "run-1", ScraperName: "testscraper"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	id, err := s.InsertRequest(ctx, &store.Request{
		RunID: run.ID, RequestType: store.Navigating, Method: "GET", URL: "https://example.com/a",
	})
	if err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}
	if err := s.MarkFailed(ctx, id, "connection reset"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	errorID, err := s.StoreError(ctx, &id, "https://example.com/a", fmt.Errorf("connection reset"), "")
	if err != nil {
		t.Fatalf("StoreError: %v", err)
	}
	return errorID
}

func TestRunRequeueClonesFailedRequestAsPending(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeTestConfig(t, dbPath)
	errorID := seedFailedRequest(t, dbPath)

	cmd := requeueCmd()
	if err := runRequeue(cmd, []string{strconv.FormatInt(errorID, 10)}); err != nil {
		t.Fatalf("runRequeue: %v", err)
	}

	ctx := context.Background()
	s, err := store.Open(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	errRow, err := s.GetError(ctx, errorID)
	if err != nil {
		t.Fatalf("GetError: %v", err)
	}
	if !errRow.IsResolved {
		t.Fatalf("expected error to be resolved after requeue")
	}

	reqs, err := s.ListRequests(ctx, store.ListRequestsFilter{RunID: "run-1", Status: store.Pending})
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one cloned pending request, got %d", len(reqs))
	}
}

func TestRunRequeueRejectsUnknownErrorID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeTestConfig(t, dbPath)

	ctx := context.Background()
	s, err := store.Open(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Close()

	if err := runRequeue(requeueCmd(), []string{"999"}); err == nil {
		t.Fatalf("expected an error requeuing an unknown error id")
	}
}

func TestRunStatusListsRecentRunsWithoutRunID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeTestConfig(t, dbPath)
	seedFailedRequest(t, dbPath)

	prev := statusRunID
	statusRunID = ""
	t.Cleanup(func() { statusRunID = prev })

	if err := runStatus(statusCmd(), nil); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
}

func TestRunStatusDetailRejectsUnknownRunID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeTestConfig(t, dbPath)

	prev := statusRunID
	statusRunID = "does-not-exist"
	t.Cleanup(func() { statusRunID = prev })

	if err := runStatus(statusCmd(), nil); err == nil {
		t.Fatalf("expected an error for an unknown run id")
	}
}

func TestRunListErrorsReportsNoErrorsOnEmptyStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeTestConfig(t, dbPath)

	ctx := context.Background()
	s, err := store.Open(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Close()

	prev := listErrorsLimit
	listErrorsLimit = 50
	t.Cleanup(func() { listErrorsLimit = prev })

	if err := runListErrors(listErrorsCmd(), nil); err != nil {
		t.Fatalf("runListErrors: %v", err)
	}
}
