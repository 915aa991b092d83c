package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/crawlkeep/crawlkeep/internal/retry"
	"github.com/crawlkeep/crawlkeep/internal/scraper"
	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
	"github.com/crawlkeep/crawlkeep/internal/speculate"
	"github.com/crawlkeep/crawlkeep/internal/store"
)

// processor adapts *Driver to worker.Processor without exposing Process on
// the public Driver type, keeping the pool-facing contract private to this
// package (the underlying struct is identical to Driver, so this is a free
// type conversion — see (*processor)(d) in Run).
type processor Driver

func (p *processor) Process(ctx context.Context, req *store.Request) error {
	return (*Driver)(p).process(ctx, req)
}

// process implements one full request cycle: cache lookup, rate-limit,
// fetch, classify failures into retry/permanent, persist the response,
// run the continuation, and dispatch its yields.
func (d *Driver) process(ctx context.Context, req *store.Request) error {
	cacheKey := cacheKeyFor(req)
	cached, err := d.st.GetCachedResponse(ctx, cacheKey)
	if err != nil {
		d.logger.Warn("cache lookup failed", "request_id", req.ID, "error", err)
	}
	if cached != nil {
		return d.processCacheHit(ctx, req, cached)
	}

	if err := d.limiter.Acquire(ctx); err != nil {
		return nil // context cancelled; the pool is shutting down
	}

	resp, fetchErr := d.fetcher.Fetch(ctx, req)
	if fetchErr != nil {
		return d.handleFetchError(ctx, req, fetchErr)
	}
	d.limiter.AdjustForStatus(resp.StatusCode)

	if req.RequestType == store.Archive {
		return d.processArchive(ctx, req, resp)
	}

	dictID, err := d.dictFor(ctx, req.Continuation)
	if err != nil {
		d.logger.Warn("compression dict lookup failed", "continuation", req.Continuation, "error", err)
	}
	compressedBody, err := d.compressReg.Compress(resp.Body, dictID)
	if err != nil {
		return fmt.Errorf("compress response body: %w", err)
	}

	if err := d.st.PutCachedResponse(ctx, &store.CachedResponse{
		CacheKey: cacheKey, StatusCode: resp.StatusCode,
		HeadersJSON: headersToJSON(resp.Headers), Body: compressedBody, DictID: dictID,
	}); err != nil {
		d.logger.Warn("cache write failed", "request_id", req.ID, "error", err)
	}

	var specOutcome *string
	if req.IsSpeculative && req.SpeculationFunc != nil {
		if exp, ok := d.explorers[*req.SpeculationFunc]; ok {
			succeeded := speculate.FailsSuccessfully(d.speculationConfig(*req.SpeculationFunc), resp)
			if req.SpeculationID != nil {
				exp.RecordOutcome(*req.SpeculationID, succeeded)
			}
			outcome := "failure"
			if succeeded {
				outcome = "success"
			}
			specOutcome = &outcome
			if _, serr := d.saveSpeculationState(ctx, *req.SpeculationFunc); serr != nil {
				d.logger.Warn("save speculation state failed", "function", *req.SpeculationFunc, "error", serr)
			}
		}
	}

	if _, err := d.st.InsertResponse(ctx, &store.Response{
		RequestID:          req.ID,
		StatusCode:         resp.StatusCode,
		HeadersJSON:        headersToJSON(resp.Headers),
		FinalURL:           resp.FinalURL,
		Body:               compressedBody,
		OriginalSize:       len(resp.Body),
		DictID:             dictID,
		Continuation:       req.Continuation,
		SpeculationOutcome: specOutcome,
	}); err != nil {
		return fmt.Errorf("insert response: %w", err)
	}

	d.trainDict(ctx, req.Continuation, resp.Body)
	d.saveRateLimiterState(ctx)

	return d.dispatchResponse(ctx, req, resp)
}

// processCacheHit short-circuits process: a cache hit returns immediately
// without consuming a rate limiter token or adjusting its rate, but still
// persists the response row and dispatches the continuation exactly like
// a fresh fetch would.
func (d *Driver) processCacheHit(ctx context.Context, req *store.Request, cached *store.CachedResponse) error {
	body, err := d.compressReg.Decompress(cached.Body, cached.DictID)
	if err != nil {
		return fmt.Errorf("decompress cached response: %w", err)
	}
	headers, err := jsonToHeaders(cached.HeadersJSON)
	if err != nil {
		return fmt.Errorf("cached response headers: %w", err)
	}
	resp := &scraper.Response{
		RequestID: req.ID, StatusCode: cached.StatusCode, Headers: headers,
		FinalURL: req.URL, Body: body,
	}

	if req.RequestType == store.Archive {
		return d.processArchive(ctx, req, resp)
	}

	if _, err := d.st.InsertResponse(ctx, &store.Response{
		RequestID:    req.ID,
		StatusCode:   cached.StatusCode,
		HeadersJSON:  cached.HeadersJSON,
		FinalURL:     req.URL,
		Body:         cached.Body,
		OriginalSize: len(body),
		DictID:       cached.DictID,
		Continuation: req.Continuation,
	}); err != nil {
		return fmt.Errorf("insert response: %w", err)
	}

	return d.dispatchResponse(ctx, req, resp)
}

// dispatchResponse runs req's continuation (if any) against resp and
// dispatches the resulting yields, completing or failing req accordingly.
func (d *Driver) dispatchResponse(ctx context.Context, req *store.Request, resp *scraper.Response) error {
	if req.Continuation == "" {
		return d.completeRequest(ctx, req, resp)
	}

	continuationFn, ok := d.def.Continuations[req.Continuation]
	if !ok {
		return fmt.Errorf("driver: no continuation registered with name %q", req.Continuation)
	}

	scraperResp, err := d.buildScraperResponse(req, resp)
	if err != nil {
		return fmt.Errorf("build scraper response: %w", err)
	}

	yields, genErr := continuationFn(scraperResp)
	dispatchErr := d.dispatcher.Dispatch(ctx, yields, genErr, req.ID, scraperResp, req.RunID, req)
	if dispatchErr != nil {
		if _, err := d.st.StoreError(ctx, &req.ID, req.URL, dispatchErr, ""); err != nil {
			d.logger.Warn("store error failed", "request_id", req.ID, "error", err)
		}
		if err := d.st.MarkFailed(ctx, req.ID, dispatchErr.Error()); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		d.cb.invokeOnProgress(ProgressEvent{Type: EventRequestFailed, At: time.Now(), RequestID: req.ID, URL: req.URL, Message: dispatchErr.Error()})
		return nil
	}

	return d.completeRequest(ctx, req, resp)
}

func (d *Driver) completeRequest(ctx context.Context, req *store.Request, resp *scraper.Response) error {
	if err := d.st.MarkCompleted(ctx, req.ID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	d.cb.invokeOnProgress(ProgressEvent{Type: EventRequestCompleted, At: time.Now(), RequestID: req.ID, URL: req.URL})
	return nil
}

// handleFetchError classifies a fetch failure into a retry or a permanent
// failure and records the corresponding state transition.
func (d *Driver) handleFetchError(ctx context.Context, req *store.Request, fetchErr error) error {
	se, ok := fetchErr.(*scrapeerr.Error)
	if !ok || !se.IsTransient() {
		if _, err := d.st.StoreError(ctx, &req.ID, req.URL, fetchErr, ""); err != nil {
			d.logger.Warn("store error failed", "request_id", req.ID, "error", err)
		}
		if err := d.st.MarkFailed(ctx, req.ID, fetchErr.Error()); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		d.cb.invokeOnProgress(ProgressEvent{Type: EventRequestFailed, At: time.Now(), RequestID: req.ID, URL: req.URL, Message: fetchErr.Error()})
		return nil
	}

	if se.Transient != nil {
		d.limiter.AdjustForStatus(se.Transient.StatusCode)
	}

	if req.IsSpeculative && req.SpeculationFunc != nil && req.SpeculationID != nil {
		if exp, ok := d.explorers[*req.SpeculationFunc]; ok {
			exp.RecordOutcome(*req.SpeculationID, false)
			d.saveSpeculationState(ctx, *req.SpeculationFunc)
		}
	}

	decision := retry.Evaluate(d.cfg.Retry, req.RetryCount, req.CumulativeBackoff)
	if decision.Permanent {
		if _, err := d.st.StoreError(ctx, &req.ID, req.URL, fetchErr, ""); err != nil {
			d.logger.Warn("store error failed", "request_id", req.ID, "error", err)
		}
		if err := d.st.MarkFailed(ctx, req.ID, fetchErr.Error()); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if d.cb.OnTransientException != nil {
			d.cb.OnTransientException(se, req.RetryCount, true)
		}
		d.cb.invokeOnProgress(ProgressEvent{Type: EventRequestFailed, At: time.Now(), RequestID: req.ID, URL: req.URL, Message: fetchErr.Error()})
		return nil
	}

	nextReadyAt := time.Now().Add(decision.Delay)
	if err := d.st.ScheduleRetry(ctx, req.ID, decision.NewCumulativeBackoff, nextReadyAt, fetchErr.Error()); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if d.cb.OnTransientException != nil {
		d.cb.OnTransientException(se, req.RetryCount, false)
	}
	d.cb.invokeOnProgress(ProgressEvent{Type: EventRequestRetrying, At: time.Now(), RequestID: req.ID, URL: req.URL, Message: fmt.Sprintf("retry in %s", decision.Delay)})
	return nil
}

func (d *Driver) processArchive(ctx context.Context, req *store.Request, resp *scraper.Response) error {
	if err := os.MkdirAll(d.cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	sum := sha256.Sum256(resp.Body)
	hash := hex.EncodeToString(sum[:])
	fileName := hash
	if req.ExpectedType != nil && *req.ExpectedType != "" {
		fileName += "." + *req.ExpectedType
	}
	path := filepath.Join(d.cfg.ArchiveDir, fileName)
	if err := os.WriteFile(path, resp.Body, 0o644); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}

	archived := &store.ArchivedFile{
		RequestID:    req.ID,
		FilePath:     path,
		OriginalURL:  req.URL,
		ExpectedType: req.ExpectedType,
		FileSize:     int64(len(resp.Body)),
		ContentHash:  hash,
	}
	if _, err := d.st.InsertArchivedFile(ctx, archived); err != nil {
		return fmt.Errorf("insert archived file: %w", err)
	}
	if d.cb.OnArchive != nil {
		d.cb.OnArchive(archived)
	}
	return d.completeRequest(ctx, req, resp)
}

// dictFor returns the latest trained dictionary id for continuation,
// registering it with the compress registry on first use.
func (d *Driver) dictFor(ctx context.Context, continuation string) (*int64, error) {
	if continuation == "" {
		return nil, nil
	}
	id, body, err := d.st.LatestCompressionDict(ctx, continuation)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	d.dictsMu.Lock()
	defer d.dictsMu.Unlock()
	if !d.registeredDict[id] {
		if err := d.compressReg.RegisterDict(id, body); err != nil {
			return nil, err
		}
		d.registeredDict[id] = true
	}
	return &id, nil
}

// trainDict feeds the raw body into the per-continuation trainer and, once
// enough samples have accumulated, persists the resulting dictionary.
func (d *Driver) trainDict(ctx context.Context, continuation string, rawBody []byte) {
	if continuation == "" {
		return
	}
	dict, sampleCount, trained := d.trainer.Observe(continuation, rawBody)
	if !trained {
		return
	}
	id, err := d.st.InsertCompressionDict(ctx, continuation, dict, sampleCount)
	if err != nil {
		d.logger.Warn("insert compression dict failed", "continuation", continuation, "error", err)
		return
	}
	if err := d.compressReg.RegisterDict(id, dict); err != nil {
		d.logger.Warn("register trained dict failed", "continuation", continuation, "error", err)
		return
	}
	d.dictsMu.Lock()
	d.registeredDict[id] = true
	d.dictsMu.Unlock()
}

func (d *Driver) saveRateLimiterState(ctx context.Context) {
	s := d.limiter.Snapshot()
	if err := d.st.SaveRateLimiterState(ctx, &store.RateLimiterStateRow{
		Tokens: s.Tokens, Rate: s.Rate, BucketSize: s.BucketSize,
		LastCongestionRate: s.LastCongestionRate, LastUsedAt: s.LastUsedAt,
		TotalRequests: s.TotalRequests, TotalSuccesses: s.TotalSuccesses, TotalRateLimited: s.TotalRateLimited,
	}); err != nil {
		d.logger.Warn("save rate limiter state failed", "error", err)
	}
}

func (d *Driver) saveSpeculationState(ctx context.Context, functionName string) (speculate.State, error) {
	exp, ok := d.explorers[functionName]
	if !ok {
		return speculate.State{}, fmt.Errorf("no explorer registered for %q", functionName)
	}
	snap := exp.Snapshot()
	err := d.st.SaveSpeculationState(ctx, &store.SpeculationStateRow{
		FunctionName:        snap.FunctionName,
		HighestSuccessfulID: snap.HighestSuccessfulID,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		CurrentCeiling:      snap.CurrentCeiling,
		Stopped:             snap.Stopped,
	})
	return snap, err
}

func (d *Driver) speculationConfig(functionName string) scraper.SpeculationConfig {
	for _, sp := range d.def.Speculations {
		if sp.FunctionName == functionName {
			return sp
		}
	}
	return scraper.SpeculationConfig{}
}

// buildScraperResponse adapts a store.Request/httpfetch response pair into
// the scraper.Response a continuation is invoked with, inheriting the
// accumulated/aux/permanent state carried by the request that produced it.
func (d *Driver) buildScraperResponse(req *store.Request, resp *scraper.Response) (*scraper.Response, error) {
	acc, err := unmarshalJSONMap(req.AccumulatedDataJSON)
	if err != nil {
		return nil, fmt.Errorf("accumulated_data: %w", err)
	}
	aux, err := unmarshalJSONMap(req.AuxDataJSON)
	if err != nil {
		return nil, fmt.Errorf("aux_data: %w", err)
	}
	perm, err := unmarshalJSONMap(req.PermanentJSON)
	if err != nil {
		return nil, fmt.Errorf("permanent: %w", err)
	}
	resp.AccumulatedData = acc
	resp.AuxData = aux
	resp.Permanent = perm
	return resp, nil
}

func unmarshalJSONMap(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func headersToJSON(h map[string][]string) string {
	flat := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// jsonToHeaders reverses headersToJSON's flattening, for replaying a
// cached response's headers back into a scraper.Response.
func jsonToHeaders(raw string) (http.Header, error) {
	if raw == "" {
		return http.Header{}, nil
	}
	var flat map[string]string
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, err
	}
	h := make(http.Header, len(flat))
	for k, v := range flat {
		h.Set(k, v)
	}
	return h, nil
}

// cacheKeyFor derives a response-cache key from (method, url, body or
// empty, sorted-headers-json): json.Marshal of a Go map already emits
// keys in sorted order, so req.HeadersJSON (built by
// internal/queue.marshalHeaders at enqueue time) is already canonical.
func cacheKeyFor(req *store.Request) string {
	h := sha256.New()
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(req.URL))
	h.Write([]byte{0})
	h.Write(req.Body)
	h.Write([]byte{0})
	h.Write([]byte(req.HeadersJSON))
	return hex.EncodeToString(h.Sum(nil))
}
