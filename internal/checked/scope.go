// Package checked implements the checked-selector observer: CSS/XPath
// queries that assert an expected match-count range and record
// themselves into an explicit Scope object passed down the call chain.
package checked

import (
	"fmt"
	"strings"
	"sync"

	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
)

// Query is one recorded CSS/XPath selector invocation, mirroring the
// original's SelectorQuery dataclass.
type Query struct {
	Selector        string
	SelectorType    string // "css" or "xpath"
	Description     string
	MatchCount      int
	ExpectedMin     int
	ExpectedMax     *int
	SampleElements  []string
	Children        []*Query
	ElementID       string
	ParentElementID string
}

// ok reports whether MatchCount satisfies [ExpectedMin, ExpectedMax].
func (q *Query) ok() bool {
	if q.MatchCount < q.ExpectedMin {
		return false
	}
	if q.ExpectedMax != nil && q.MatchCount > *q.ExpectedMax {
		return false
	}
	return true
}

// Scope collects selector queries for one request's parse, used to
// render a ✓/✗ debugging tree and to raise a structural error when an expected-count assertion fails.
type Scope struct {
	mu             sync.Mutex
	maxSampleLen   int
	maxSamples     int
	requestURL     string
	queries        []*Query
	stack          []*Query
	elementCounter int
	elementToQuery map[any]*Query
	dedupIndex     map[dedupKey]*Query
}

type dedupKey struct {
	parent   string
	selector string
}

// NewScope builds an empty Scope for one parse pass.
func NewScope(requestURL string) *Scope {
	return &Scope{
		maxSampleLen:   100,
		maxSamples:     3,
		requestURL:     requestURL,
		elementToQuery: make(map[any]*Query),
		dedupIndex:     make(map[dedupKey]*Query),
	}
}

// Record logs a selector query's outcome, deduplicating against a prior
// query with the same (parent, selector) pair, and returns a
// *scrapeerr.Error if the match count violates [expectedMin, expectedMax].
func (s *Scope) Record(selector, selectorType, description string, matchCount, expectedMin int, expectedMax *int, parentElement any, sampleText func() []string) error {
	s.mu.Lock()

	var parentQueryID string
	var parentQuery *Query
	if parentElement != nil {
		if pq, ok := s.elementToQuery[parentElement]; ok {
			parentQueryID = pq.ElementID
			parentQuery = pq
		}
	}

	key := dedupKey{parent: parentQueryID, selector: selector}
	if existing, ok := s.dedupIndex[key]; ok {
		existing.MatchCount += matchCount
		if need := s.maxSamples - len(existing.SampleElements); need > 0 && sampleText != nil {
			samples := sampleText()
			if len(samples) > need {
				samples = samples[:need]
			}
			existing.SampleElements = append(existing.SampleElements, samples...)
		}
		ok2 := existing.ok()
		s.mu.Unlock()
		if !ok2 {
			return s.structuralError(existing)
		}
		return nil
	}

	s.elementCounter++
	q := &Query{
		Selector:        selector,
		SelectorType:    selectorType,
		Description:     description,
		MatchCount:      matchCount,
		ExpectedMin:     expectedMin,
		ExpectedMax:     expectedMax,
		ElementID:       fmt.Sprintf("match_%d", s.elementCounter),
		ParentElementID: parentQueryID,
	}
	if sampleText != nil {
		samples := sampleText()
		if len(samples) > s.maxSamples {
			samples = samples[:s.maxSamples]
		}
		for _, t := range samples {
			q.SampleElements = append(q.SampleElements, truncate(t, s.maxSampleLen))
		}
	}
	s.dedupIndex[key] = q
	if parentQuery != nil {
		parentQuery.Children = append(parentQuery.Children, q)
	} else if len(s.stack) > 0 {
		top := s.stack[len(s.stack)-1]
		top.Children = append(top.Children, q)
	} else {
		s.queries = append(s.queries, q)
	}

	passed := q.ok()
	s.mu.Unlock()
	if !passed {
		return s.structuralError(q)
	}
	return nil
}

// BindElement associates a result element with the query that produced
// it, so a later nested query executed against that element can be
// attached as a child in the rendered tree.
func (s *Scope) BindElement(elem any, selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.dedupIndex {
		if q.Selector == selector {
			s.elementToQuery[elem] = q
			return
		}
	}
}

func (s *Scope) structuralError(q *Query) error {
	return scrapeerr.NewStructural(s.requestURL, q.Selector, q.SelectorType, q.Description, q.ExpectedMin, q.ExpectedMax, q.MatchCount)
}

func truncate(s string, n int) string {
	fields := strings.Fields(s)
	joined := strings.Join(fields, " ")
	if len(joined) > n {
		return joined[:n] + "..."
	}
	return joined
}
