// Package speculate implements speculative ID exploration:
// probing a monotonic integer id space beyond the highest id known to
// succeed, extending the ceiling on success, and giving up after a
// sustained run of failures.
package speculate

import (
	"sync"

	"github.com/crawlkeep/crawlkeep/internal/scraper"
	"github.com/crawlkeep/crawlkeep/internal/store"
)

// State is the in-memory mirror of store.SpeculationStateRow.
type State struct {
	FunctionName        string
	HighestSuccessfulID int64
	ConsecutiveFailures int
	CurrentCeiling      int64
	Stopped             bool
}

// Explorer tracks one scraper-registered speculation function's
// exploration frontier.
type Explorer struct {
	mu    sync.Mutex
	cfg   scraper.SpeculationConfig
	state State
}

// New builds an Explorer from its declared config and any persisted state
// from a previous run. On first run, the ceiling starts at cfg.Start plus
// the forward-probing window.
func New(cfg scraper.SpeculationConfig, persisted *store.SpeculationStateRow) *Explorer {
	e := &Explorer{cfg: cfg}
	window := e.plusWindow()

	if persisted != nil {
		e.state = State{
			FunctionName:        persisted.FunctionName,
			HighestSuccessfulID: persisted.HighestSuccessfulID,
			ConsecutiveFailures: persisted.ConsecutiveFailures,
			CurrentCeiling:      persisted.CurrentCeiling,
			Stopped:             persisted.Stopped,
		}
		return e
	}

	e.state = State{
		FunctionName:        cfg.FunctionName,
		HighestSuccessfulID: cfg.Start - 1,
		CurrentCeiling:       cfg.Start + window,
	}
	return e
}

// NextBatch returns up to n consecutive ids starting just past the
// highest successful id, bounded by the current ceiling. It keeps no
// record of ids already handed out, so a later call returns them again
// until the high-water mark moves past them. It returns an
// empty slice once exploration has stopped or the ceiling has been
// reached without a pending extension.
func (e *Explorer) NextBatch(n int) []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Stopped {
		return nil
	}
	var out []int64
	next := e.state.HighestSuccessfulID + 1
	for len(out) < n && next <= e.state.CurrentCeiling {
		out = append(out, next)
		next++
	}
	return out
}

// plusWindow is the forward-probing window for this function: the
// configured Plus if set, else the largest gap ever observed between
// successful ids, floored at 1. It also doubles as the stop threshold:
// exploration gives up once consecutive_failures reaches it.
func (e *Explorer) plusWindow() int64 {
	w := e.cfg.Plus
	if w == 0 {
		w = e.cfg.LargestObservedGap
	}
	if w <= 0 {
		w = 1
	}
	return w
}

// RecordOutcome updates exploration state for a single probed id. On
// success, it advances the high-water mark and extends the ceiling by the
// configured (or observed) window; consecutive failures reset. On
// failure past the high-water mark, it increments the failure streak and
// stops exploration once that streak reaches the plus window.
func (e *Explorer) RecordOutcome(id int64, succeeded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if succeeded {
		if id > e.state.HighestSuccessfulID {
			e.state.HighestSuccessfulID = id
		}
		e.state.ConsecutiveFailures = 0
		if want := id + e.plusWindow(); want > e.state.CurrentCeiling {
			e.state.CurrentCeiling = want
		}
		return
	}

	if id > e.state.HighestSuccessfulID {
		e.state.ConsecutiveFailures++
		if int64(e.state.ConsecutiveFailures) >= e.plusWindow() {
			e.state.Stopped = true
		}
	}
}

// ExtendCeiling pushes the ceiling forward by by and clears Stopped,
// giving a previously-exhausted exploration another window to probe
// (used by speculate.Scheduler's periodic re-extension).
func (e *Explorer) ExtendCeiling(by int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.CurrentCeiling += by
	e.state.ConsecutiveFailures = 0
	e.state.Stopped = false
}

// Snapshot returns a copy of the current exploration state, for
// persistence via internal/store.SaveSpeculationState.
func (e *Explorer) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// FailsSuccessfully reports whether a probe response counts as a "found
// it" outcome, per the scraper-supplied predicate.
func FailsSuccessfully(cfg scraper.SpeculationConfig, resp *scraper.Response) bool {
	if cfg.FailsSuccessfully == nil {
		return resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	return cfg.FailsSuccessfully(resp)
}
