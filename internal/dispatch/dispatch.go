// Package dispatch implements the yield-handling switch: each value a
// continuation returns is routed to storage, enqueueing, or a user
// callback, in a fixed, deterministic order.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crawlkeep/crawlkeep/internal/queue"
	"github.com/crawlkeep/crawlkeep/internal/scraper"
	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
	"github.com/crawlkeep/crawlkeep/internal/store"
	"github.com/crawlkeep/crawlkeep/internal/validate"
)

// Callbacks are the user hooks invoked while dispatching a continuation's
// yields.
type Callbacks struct {
	OnData            func(data any)
	OnInvalidData     func(deferred *validate.Deferred)
	OnStructuralError func(err *scrapeerr.Error) (shouldContinue bool)
}

// Dispatcher routes one continuation's eagerly-built yield slice into
// storage/enqueueing/callbacks.
type Dispatcher struct {
	st *store.Store
	cb Callbacks
}

// New builds a Dispatcher.
func New(st *store.Store, cb Callbacks) *Dispatcher {
	return &Dispatcher{st: st, cb: cb}
}

// Dispatch processes yields in order. genErr is the error (if any)
// returned by the continuation call itself; a *scrapeerr.Error of Kind
// Structural is routed to OnStructuralError — if the callback declines
// to continue, Dispatch returns the error so the caller treats the
// request as having failed; otherwise it is swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, yields []scraper.Yield, genErr error, requestID int64, resp *scraper.Response, runID string, parent *store.Request) error {
	if genErr != nil {
		if se, ok := genErr.(*scrapeerr.Error); ok && se.Kind == scrapeerr.Structural {
			if d.cb.OnStructuralError != nil {
				if d.cb.OnStructuralError(se) {
					return nil
				}
			}
		}
		return genErr
	}

	responseCtx := queue.ContextFromResponse(runID, requestID, resp)

	for _, y := range yields {
		if y == nil {
			continue
		}
		switch v := y.(type) {
		case scraper.ParsedData:
			if err := d.dispatchParsedData(ctx, requestID, v); err != nil {
				return err
			}

		case scraper.EstimateData:
			typesJSON, err := json.Marshal(v.ExpectedTypes)
			if err != nil {
				return fmt.Errorf("marshal expected_types: %w", err)
			}
			if _, err := d.st.InsertEstimate(ctx, requestID, string(typesJSON), v.Min, v.Max); err != nil {
				return fmt.Errorf("insert estimate: %w", err)
			}

		case scraper.NavigatingRequest:
			if _, err := queue.Enqueue(ctx, d.st, responseCtx, v); err != nil {
				return fmt.Errorf("enqueue navigating request: %w", err)
			}

		case scraper.NonNavigatingRequest, scraper.ArchiveRequest:
			if parent == nil {
				return fmt.Errorf("dispatch: non-navigating/archive yield requires a parent request context")
			}
			parentCtx, err := queue.ContextFromParentRequest(parent)
			if err != nil {
				return fmt.Errorf("parent context: %w", err)
			}
			if _, err := queue.Enqueue(ctx, d.st, parentCtx, v); err != nil {
				return fmt.Errorf("enqueue non-navigating/archive request: %w", err)
			}

		default:
			return fmt.Errorf("dispatch: unhandled yield type %T", y)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchParsedData(ctx context.Context, requestID int64, pd scraper.ParsedData) error {
	if deferred, ok := pd.Payload.(*validate.Deferred); ok {
		validated, err := deferred.Confirm()
		if err == nil {
			dataJSON, merr := json.Marshal(validated)
			if merr != nil {
				return fmt.Errorf("marshal validated data: %w", merr)
			}
			if _, err := d.st.InsertResult(ctx, &store.Result{RequestID: requestID, ResultType: pd.ResultType, DataJSON: string(dataJSON), IsValid: true}); err != nil {
				return fmt.Errorf("insert result: %w", err)
			}
			if d.cb.OnData != nil {
				d.cb.OnData(validated)
			}
			return nil
		}

		se, ok := err.(*scrapeerr.Error)
		if !ok || se.Kind != scrapeerr.Validation {
			return err
		}
		failedJSON, merr := json.Marshal(se.Validation.FailedDocument)
		if merr != nil {
			return fmt.Errorf("marshal failed document: %w", merr)
		}
		errsJSON, merr := json.Marshal(se.Validation.Errors)
		if merr != nil {
			return fmt.Errorf("marshal validation errors: %w", merr)
		}
		errsStr := string(errsJSON)
		if _, insertErr := d.st.InsertResult(ctx, &store.Result{
			RequestID: requestID, ResultType: pd.ResultType, DataJSON: string(failedJSON),
			IsValid: false, ValidationErrorsJSON: &errsStr,
		}); insertErr != nil {
			return fmt.Errorf("insert invalid result: %w", insertErr)
		}
		if d.cb.OnInvalidData == nil {
			return err
		}
		d.cb.OnInvalidData(deferred)
		return nil
	}

	dataJSON, err := json.Marshal(pd.Payload)
	if err != nil {
		return fmt.Errorf("marshal parsed data: %w", err)
	}
	if _, err := d.st.InsertResult(ctx, &store.Result{RequestID: requestID, ResultType: pd.ResultType, DataJSON: string(dataJSON), IsValid: true}); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if d.cb.OnData != nil {
		d.cb.OnData(pd.Payload)
	}
	return nil
}
