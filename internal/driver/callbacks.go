package driver

import (
	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
	"github.com/crawlkeep/crawlkeep/internal/store"
	"github.com/crawlkeep/crawlkeep/internal/validate"
)

// Callbacks are the user hooks a Driver invokes over the course of a run.
// All fields are optional; a nil callback is simply skipped.
type Callbacks struct {
	OnData            func(data any)
	OnInvalidData     func(deferred *validate.Deferred)
	OnStructuralError func(err *scrapeerr.Error) (shouldContinue bool)
	// OnTransientException fires whenever a fetch fails with a transient
	// error, whether or not the request will be retried.
	OnTransientException func(err *scrapeerr.Error, retryCount int, permanent bool)
	OnArchive             func(file *store.ArchivedFile)
	OnRunStart            func(runID string)
	OnRunComplete         func(runID string, status store.RunStatus)
	OnProgress            func(ev ProgressEvent)
}

// invokeOnProgress calls cb.OnProgress defensively: a panicking user
// callback must not take down a worker goroutine.
func (cb Callbacks) invokeOnProgress(ev ProgressEvent) {
	if cb.OnProgress == nil {
		return
	}
	defer func() { recover() }()
	cb.OnProgress(ev)
}
