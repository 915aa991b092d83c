// Package httpfetch turns a persisted store.Request into a
// scraper.Response: it handles UA rotation, brotli/gzip/deflate
// decompression, and Retry-After parsing.
package httpfetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/crawlkeep/crawlkeep/internal/scraper"
	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
	"github.com/crawlkeep/crawlkeep/internal/store"
)

// Config holds the fetcher's tunables, populated from internal/config.
type Config struct {
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	RequestTimeout  time.Duration
	MaxRedirects    int
	FollowRedirects bool
	MaxBodySize     int64
	TLSInsecure     bool
	UserAgents      []string
}

// DefaultConfig returns sane fetcher defaults.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:    100,
		IdleConnTimeout:  90 * time.Second,
		RequestTimeout:   30 * time.Second,
		MaxRedirects:     10,
		FollowRedirects:  true,
		MaxBodySize:      32 * 1024 * 1024,
		UserAgents:       []string{"crawlkeep/1.0"},
	}
}

// Fetcher issues HTTP requests for store.Request rows.
type Fetcher struct {
	client     *http.Client
	cfg        Config
	uaIndex    atomic.Int64
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns / 2,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.TLSInsecure},
		DisableCompression:  true, // decompression handled explicitly below, including brotli
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !cfg.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("max redirects (%d) reached", cfg.MaxRedirects)
		}
		return nil
	}

	return &Fetcher{
		client: &http.Client{
			Transport:     transport,
			Jar:           jar,
			Timeout:       cfg.RequestTimeout,
			CheckRedirect: redirectPolicy,
		},
		cfg: cfg,
	}, nil
}

// Fetch executes req and builds the corresponding scraper.Response, or a
// *scrapeerr.Error classifying the failure.
func (f *Fetcher) Fetch(ctx context.Context, req *store.Request) (*scraper.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, scrapeerr.NewUnknown(req.URL, fmt.Errorf("build request: %w", err))
	}

	httpReq.Header.Set("User-Agent", f.nextUserAgent())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	var headers map[string]string
	if req.HeadersJSON != "" && req.HeadersJSON != "{}" {
		if err := json.Unmarshal([]byte(req.HeadersJSON), &headers); err == nil {
			for k, v := range headers {
				httpReq.Header.Set(k, v)
			}
		}
	}
	var cookies map[string]string
	if req.CookiesJSON != "" && req.CookiesJSON != "{}" {
		if err := json.Unmarshal([]byte(req.CookiesJSON), &cookies); err == nil {
			for k, v := range cookies {
				httpReq.AddCookie(&http.Cookie{Name: k, Value: v})
			}
		}
	}

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, scrapeerr.NewTransientTimeout(req.URL, time.Since(start))
		}
		if isRetryableNetError(err) {
			return nil, scrapeerr.NewTransientTimeout(req.URL, time.Since(start))
		}
		return nil, scrapeerr.NewUnknown(req.URL, err)
	}
	defer httpResp.Body.Close()

	if scrapeerr.IsRetryableStatus(httpResp.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1024))
		return nil, scrapeerr.NewTransientStatus(req.URL, httpResp.StatusCode)
	}

	var reader io.Reader = httpResp.Body
	if f.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, f.cfg.MaxBodySize)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, scrapeerr.NewUnknown(req.URL, fmt.Errorf("decompress: %w", err))
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, scrapeerr.NewTransientTimeout(req.URL, time.Since(start))
	}

	finalURL := req.URL
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}

	return &scraper.Response{
		RequestID:    req.ID,
		StatusCode:   httpResp.StatusCode,
		Headers:      httpResp.Header,
		FinalURL:     finalURL,
		Body:         body,
		Continuation: req.Continuation,
	}, nil
}

// Close releases idle connections.
func (f *Fetcher) Close() { f.client.CloseIdleConnections() }

func (f *Fetcher) nextUserAgent() string {
	if len(f.cfg.UserAgents) == 0 {
		return "crawlkeep/1.0"
	}
	idx := f.uaIndex.Add(1) % int64(len(f.cfg.UserAgents))
	return f.cfg.UserAgents[idx]
}

func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

func isRetryableNetError(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// ParseRetryAfter parses an HTTP Retry-After header, supporting both
// integer-seconds and HTTP-date forms, capped at two minutes.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}
