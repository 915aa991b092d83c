// Package scraper defines the scraper-facing SDK: the bounded yield
// algebra a scraper's continuation returns and the
// explicit self-registration surface that replaces reflection-based
// entry discovery.
package scraper

import (
	"crypto/tls"
	"net/http"
	"time"
)

// Response is the value a continuation is invoked with; it is the
// driver-facing read-only view of internal/store.Response plus the
// decompressed body.
type Response struct {
	RequestID    int64
	StatusCode   int
	Headers      http.Header
	FinalURL     string
	Body         []byte
	Continuation string
	// AccumulatedData/AuxData/Permanent are inherited from the request
	// that produced this response, for the continuation to read and
	// extend.
	AccumulatedData map[string]any
	AuxData         map[string]any
	Permanent       map[string]any
}

// Yield is the sum type a continuation emits, exhaustively matched by
// internal/dispatch. Exactly one of the typed wrapper
// values below should be produced per iteration; a nil Yield is the
// "None" case (no-op).
type Yield interface{ isYield() }

// BaseRequest carries the fields common to all three request-yield
// variants.
type BaseRequest struct {
	Method          string
	URL             string // absolute or relative to the enqueue context
	Headers         http.Header
	Cookies         map[string]string
	Body            []byte
	QueryParams     map[string]string
	Continuation    string
	Priority        int // 0 = unset -> component default applies
	AccumulatedData map[string]any
	AuxData         map[string]any
	Permanent       map[string]any
	DedupKey        *string // nil = derive default; "skip" sentinel via SkipDedup()
	IsSpeculative   bool
	SpeculationFunc string
	SpeculationID   int64
}

// SkipDedup marks a BaseRequest to bypass the duplicate check entirely.
func SkipDedup() *string {
	v := "\x00skip-dedup\x00"
	return &v
}

// NavigatingRequest enqueues with context = the response that produced it.
type NavigatingRequest struct{ BaseRequest }

// NonNavigatingRequest enqueues with context = the parent request.
type NonNavigatingRequest struct{ BaseRequest }

// ArchiveRequest enqueues with context = the parent request, grouped with
// NonNavigatingRequest since neither produces a page for a continuation
// to walk.
type ArchiveRequest struct {
	BaseRequest
	ExpectedType string
}

func (NavigatingRequest) isYield()    {}
func (NonNavigatingRequest) isYield() {}
func (ArchiveRequest) isYield()       {}

// ParsedData carries extracted data, optionally behind deferred
// validation.
type ParsedData struct {
	ResultType string // symbolic class name for storage/listing
	Payload    any    // either a plain value or a *validate.Deferred
}

func (ParsedData) isYield() {}

// EstimateData persists a hint row describing expected future yields.
type EstimateData struct {
	ExpectedTypes []string
	Min           *int
	Max           *int
}

func (EstimateData) isYield() {}

// Continuation maps a continuation name to the function that resumes
// navigation with a response. Results are eagerly built.
type Continuation func(resp *Response) ([]Yield, error)

// EntryInvocation is a single seed description: an entry point plus
// bound parameters (e.g. a speculative range or explicit ids).
type EntryInvocation struct {
	EntryName string
	Params    map[string]any
}

// Entry is a scraper's registered starting point.
type Entry struct {
	Name        string
	Speculative bool
	Seed        func(inv EntryInvocation) ([]Yield, error)
}

// SpeculationConfig is the metadata a scraper registers via
// Scraper.Speculate for one monotonic id-space to explore.
type SpeculationConfig struct {
	FunctionName        string
	Start               int64
	Plus                int64 // forward-probing window; 0 = use metadata.LargestObservedGap
	ObservationDate      string
	HighestObserved      int64
	LargestObservedGap   int64
	BuildRequest         func(id int64) NavigatingRequest
	FailsSuccessfully    func(resp *Response) bool
}

// RateLimit is a declarative (count, interval) pair used to derive the
// initial rate limiter configuration.
type RateLimit struct {
	Count    int
	Interval time.Duration
}

// Scraper declares one crawl target: its seed entries, its continuation
// functions, its speculative id-space explorations, and its rate limits.
// There is no decorator-based registration; every piece is listed
// explicitly in the struct literal a scraper author builds.
type Scraper struct {
	Name          string
	Version       string
	Entries       []Entry
	Continuations map[string]Continuation
	Speculations  []SpeculationConfig
	RateLimits    []RateLimit
	SSLContext    *tls.Config
}

// NewRegistry returns an empty Scraper ready for Entry/Continuation/
// Speculate registration in a constructor, e.g.:
//
//	func NewMyScraper() *scraper.Scraper {
//	    s := scraper.NewRegistry("my_scraper", "1.0")
//	    s.Entry("start", false, seedFn)
//	    s.Continuation("parse_listing", parseListingFn)
//	    return s
//	}
func NewRegistry(name, version string) *Scraper {
	return &Scraper{
		Name:          name,
		Version:       version,
		Continuations: make(map[string]Continuation),
	}
}

// Entry registers a starting point.
func (s *Scraper) Entry(name string, speculative bool, seed func(EntryInvocation) ([]Yield, error)) {
	s.Entries = append(s.Entries, Entry{Name: name, Speculative: speculative, Seed: seed})
}

// Continuation registers a named resume function.
func (s *Scraper) Continuation(name string, fn Continuation) {
	s.Continuations[name] = fn
}

// Speculate registers a monotonic-integer endpoint for speculative
// exploration.
func (s *Scraper) Speculate(cfg SpeculationConfig) {
	s.Speculations = append(s.Speculations, cfg)
}
