package speculate

import (
	"testing"

	"github.com/crawlkeep/crawlkeep/internal/scraper"
)

func newTestConfig() scraper.SpeculationConfig {
	return scraper.SpeculationConfig{
		FunctionName: "fetch_post",
		Start:        1,
		Plus:         5,
	}
}

func TestNewExplorerStartsCeilingAtStartPlusWindow(t *testing.T) {
	e := New(newTestConfig(), nil)
	s := e.Snapshot()
	if s.CurrentCeiling != 6 {
		t.Fatalf("expected ceiling=6, got %d", s.CurrentCeiling)
	}
	if s.HighestSuccessfulID != 0 {
		t.Fatalf("expected highest_successful_id=start-1=0, got %d", s.HighestSuccessfulID)
	}
}

func TestNextBatchNeverExceedsCeiling(t *testing.T) {
	e := New(newTestConfig(), nil)
	batch := e.NextBatch(100)
	if len(batch) != 6 {
		t.Fatalf("expected 6 ids (1..6), got %d: %v", len(batch), batch)
	}
	if batch[0] != 1 || batch[len(batch)-1] != 6 {
		t.Fatalf("unexpected batch bounds: %v", batch)
	}
}

func TestRecordOutcomeSuccessAdvancesHighWaterMarkAndExtendsCeiling(t *testing.T) {
	e := New(newTestConfig(), nil)
	e.RecordOutcome(3, true)
	s := e.Snapshot()
	if s.HighestSuccessfulID != 3 {
		t.Fatalf("expected highest_successful_id=3, got %d", s.HighestSuccessfulID)
	}
	if s.CurrentCeiling != 8 { // 3 + plus(5)
		t.Fatalf("expected ceiling extended to 8, got %d", s.CurrentCeiling)
	}
	if s.ConsecutiveFailures != 0 {
		t.Fatalf("expected failures reset on success")
	}
}

func TestRecordOutcomeStopsAfterConsecutiveFailuresReachPlus(t *testing.T) {
	e := New(newTestConfig(), nil) // Plus=5
	ceiling := e.Snapshot().CurrentCeiling
	for i := int64(0); i < 4; i++ {
		e.RecordOutcome(ceiling+i, false)
		if e.Snapshot().Stopped {
			t.Fatalf("expected exploration to still be running after %d failures", i+1)
		}
	}
	e.RecordOutcome(ceiling+4, false)
	if !e.Snapshot().Stopped {
		t.Fatalf("expected exploration to stop once consecutive failures reach plus(5)")
	}
	if len(e.NextBatch(10)) != 0 {
		t.Fatalf("expected no further batches once stopped")
	}
}

func TestRecordOutcomeIgnoresFailuresBelowHighWaterMark(t *testing.T) {
	e := New(newTestConfig(), nil) // Plus=5
	e.RecordOutcome(3, true)       // highest_successful_id -> 3
	for i := 0; i < 10; i++ {
		e.RecordOutcome(2, false) // below the high-water mark, never counted
	}
	s := e.Snapshot()
	if s.ConsecutiveFailures != 0 {
		t.Fatalf("expected failures below highest_successful_id to be ignored, got %d", s.ConsecutiveFailures)
	}
	if s.Stopped {
		t.Fatalf("did not expect exploration to stop")
	}
}

func TestExtendCeilingClearsStoppedState(t *testing.T) {
	cfg := newTestConfig()
	cfg.Plus = 1
	e := New(cfg, nil)
	ceiling := e.Snapshot().CurrentCeiling
	e.RecordOutcome(ceiling, false)
	if !e.Snapshot().Stopped {
		t.Fatalf("expected stopped after one failure with plus=1")
	}
	e.ExtendCeiling(10)
	s := e.Snapshot()
	if s.Stopped {
		t.Fatalf("expected ExtendCeiling to clear Stopped")
	}
	if s.CurrentCeiling != ceiling+10 {
		t.Fatalf("expected ceiling extended by 10, got %d from %d", s.CurrentCeiling, ceiling)
	}
}

func TestFailsSuccessfullyDefaultsToStatusRange(t *testing.T) {
	cfg := newTestConfig()
	if !FailsSuccessfully(cfg, &scraper.Response{StatusCode: 200}) {
		t.Fatalf("expected 200 to count as success under default predicate")
	}
	if FailsSuccessfully(cfg, &scraper.Response{StatusCode: 404}) {
		t.Fatalf("expected 404 to count as failure under default predicate")
	}
}
