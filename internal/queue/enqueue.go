package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/crawlkeep/crawlkeep/internal/scraper"
	"github.com/crawlkeep/crawlkeep/internal/store"
)

// EnqueueContext carries the inherited lineage state a yielded request is
// resolved against: the base URL for relative resolution, and the
// accumulated/aux/permanent data to propagate into the child row.
type EnqueueContext struct {
	RunID           string
	ParentID        *int64
	BaseURL         string
	AccumulatedData map[string]any
	AuxData         map[string]any
	Permanent       map[string]any
}

// ContextFromResponse builds the enqueue context used for
// NavigatingRequest yields, where context = the response that produced
// them.
func ContextFromResponse(runID string, requestID int64, resp *scraper.Response) EnqueueContext {
	return EnqueueContext{
		RunID:           runID,
		ParentID:        &requestID,
		BaseURL:         resp.FinalURL,
		AccumulatedData: resp.AccumulatedData,
		AuxData:         resp.AuxData,
		Permanent:       resp.Permanent,
	}
}

// ContextFromParentRequest builds the enqueue context used for
// NonNavigatingRequest and ArchiveRequest yields, where context = the
// parent request rather than any response.
func ContextFromParentRequest(parent *store.Request) (EnqueueContext, error) {
	acc, err := unmarshalMap(parent.AccumulatedDataJSON)
	if err != nil {
		return EnqueueContext{}, fmt.Errorf("parent accumulated_data: %w", err)
	}
	aux, err := unmarshalMap(parent.AuxDataJSON)
	if err != nil {
		return EnqueueContext{}, fmt.Errorf("parent aux_data: %w", err)
	}
	perm, err := unmarshalMap(parent.PermanentJSON)
	if err != nil {
		return EnqueueContext{}, fmt.Errorf("parent permanent: %w", err)
	}
	return EnqueueContext{
		RunID:           parent.RunID,
		ParentID:        &parent.ID,
		BaseURL:         parent.URL,
		AccumulatedData: acc,
		AuxData:         aux,
		Permanent:       perm,
	}, nil
}

// Enqueue resolves a yielded request against ec and persists it, returning
// the new row's id (0 if silently deduped). y must be one of
// scraper.NavigatingRequest, scraper.NonNavigatingRequest or
// scraper.ArchiveRequest.
func Enqueue(ctx context.Context, st *store.Store, ec EnqueueContext, y scraper.Yield) (int64, error) {
	var (
		base         scraper.BaseRequest
		reqType      store.RequestType
		expectedType *string
	)
	switch v := y.(type) {
	case scraper.NavigatingRequest:
		base, reqType = v.BaseRequest, store.Navigating
	case scraper.NonNavigatingRequest:
		base, reqType = v.BaseRequest, store.NonNavigating
	case scraper.ArchiveRequest:
		base, reqType = v.BaseRequest, store.Archive
		if v.ExpectedType != "" {
			expectedType = &v.ExpectedType
		}
	default:
		return 0, fmt.Errorf("queue: unsupported yield type %T", y)
	}

	resolvedURL := base.URL
	if ec.BaseURL != "" {
		resolvedURL = ResolveURL(ec.BaseURL, base.URL)
	}
	if len(base.QueryParams) > 0 {
		if u, err := url.Parse(resolvedURL); err == nil {
			q := u.Query()
			for k, v := range base.QueryParams {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
			resolvedURL = u.String()
		}
	}
	canonicalURL := CanonicalizeURL(resolvedURL)

	accumulated, err := mergeDeepCopy(ec.AccumulatedData, nil)
	if err != nil {
		return 0, fmt.Errorf("accumulated_data: %w", err)
	}
	aux, err := mergeDeepCopy(ec.AuxData, nil)
	if err != nil {
		return 0, fmt.Errorf("aux_data: %w", err)
	}
	// accumulated_data/aux_data from the child yield, if present, extend
	// (not replace) the inherited map.
	if base.AccumulatedData != nil {
		accumulated, err = mergeDeepCopy(accumulated, base.AccumulatedData)
		if err != nil {
			return 0, fmt.Errorf("accumulated_data merge: %w", err)
		}
	}
	if base.AuxData != nil {
		aux, err = mergeDeepCopy(aux, base.AuxData)
		if err != nil {
			return 0, fmt.Errorf("aux_data merge: %w", err)
		}
	}
	// permanent merges parent -> child, with child keys overriding.
	permanent, err := mergeDeepCopy(ec.Permanent, base.Permanent)
	if err != nil {
		return 0, fmt.Errorf("permanent merge: %w", err)
	}

	accJSON, err := marshalMap(accumulated)
	if err != nil {
		return 0, err
	}
	auxJSON, err := marshalMap(aux)
	if err != nil {
		return 0, err
	}
	permJSON, err := marshalMap(permanent)
	if err != nil {
		return 0, err
	}
	headersJSON, err := marshalHeaders(base.Headers)
	if err != nil {
		return 0, err
	}
	cookiesJSON, err := marshalMapString(base.Cookies)
	if err != nil {
		return 0, err
	}

	dedupKey := base.DedupKey
	if dedupKey == nil {
		key := DefaultDedupKey(requestMethod(base.Method), canonicalURL, base.Body)
		dedupKey = &key
	}

	priority := base.Priority
	if priority == 0 {
		priority = 9
		if reqType == store.Archive {
			priority = 1
		}
	}

	var specFunc *string
	if base.SpeculationFunc != "" {
		specFunc = &base.SpeculationFunc
	}
	var specID *int64
	if base.SpeculationID != 0 {
		specID = &base.SpeculationID
	}

	req := &store.Request{
		RunID:               ec.RunID,
		ParentID:            ec.ParentID,
		RequestType:         reqType,
		Method:              requestMethod(base.Method),
		URL:                 canonicalURL,
		HeadersJSON:         headersJSON,
		CookiesJSON:         cookiesJSON,
		Body:                base.Body,
		BodyIsJSON:          false,
		Continuation:        base.Continuation,
		ExpectedType:        expectedType,
		Priority:            priority,
		AccumulatedDataJSON: accJSON,
		AuxDataJSON:         auxJSON,
		PermanentJSON:       permJSON,
		DedupKey:            dedupKey,
		IsSpeculative:       base.IsSpeculative,
		SpeculationFunc:     specFunc,
		SpeculationID:       specID,
	}
	return st.InsertRequest(ctx, req)
}

func requestMethod(m string) string {
	if m == "" {
		return "GET"
	}
	return strings.ToUpper(m)
}

// mergeDeepCopy returns a brand-new map holding base's entries (if any)
// overlaid with override's entries, deep-copied via a JSON round trip so
// the result shares no references with either input — this is what gives
// sibling requests independent accumulated_data.
func mergeDeepCopy(base, override map[string]any) (map[string]any, error) {
	if base == nil && override == nil {
		return nil, nil
	}
	merged := make(map[string]any, len(base)+len(override))
	if len(base) > 0 {
		cp, err := deepCopyMap(base)
		if err != nil {
			return nil, err
		}
		for k, v := range cp {
			merged[k] = v
		}
	}
	if len(override) > 0 {
		cp, err := deepCopyMap(override)
		if err != nil {
			return nil, err
		}
		for k, v := range cp {
			merged[k] = v
		}
	}
	return merged, nil
}

func deepCopyMap(m map[string]any) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalMapString(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalHeaders(h http.Header) (string, error) {
	if h == nil {
		return "{}", nil
	}
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
