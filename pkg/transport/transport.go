// Package transport is the shared HTTP client the cloud façade's
// Asgard-style task API and the metadata/configuration/policy
// collaborator clients all build on (spec.md §1's "HTTP
// transport layer and its retry/classification of network errors" is
// the out-of-scope collaborator; this is Maestro's one concrete
// binding of it). It applies the timeouts spec.md §5 names (connect 5s,
// socket 15s by default) and a per-host rate limiter adapted from
// registry/middleware/rate_limiter.go.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrorClass is the coarse classification the tracker (C2) switches on:
// http errors (transport faults) get rescheduled rather than failed.
type ErrorClass string

const (
	ClassHTTP   ErrorClass = "http"
	ClassStatus ErrorClass = "status" // got a response, but not 2xx/302
	ClassOther  ErrorClass = "other"
)

// ClassifiedError tags err with the class a caller needs to decide
// whether to retry.
type ClassifiedError struct {
	Class      ErrorClass
	StatusCode int
	Err        error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify inspects err (as returned by Client.Do) and decides its
// ErrorClass: connection refused, connect-timeout, socket-timeout,
// unknown host, and any other net.Error are "http" — the spec's list in
// §4.2 of faults the tracker reschedules rather than fails on.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ClassifiedError{Class: ClassHTTP, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ClassifiedError{Class: ClassHTTP, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ClassifiedError{Class: ClassHTTP, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ClassifiedError{Class: ClassHTTP, Err: err}
	}
	return &ClassifiedError{Class: ClassOther, Err: err}
}

// Client wraps http.Client with the connect/socket timeouts spec.md §5
// names and a per-host rate limiter.
type Client struct {
	http    *http.Client
	limiter *limiters
	logger  log.Logger
}

// Config holds the transport's dial/request timeouts.
type Config struct {
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration
	RPS            float64
	Burst          int
}

// DefaultConfig matches spec.md §5: "connect 5s, socket 15s by default".
func DefaultConfig() Config {
	return Config{ConnectTimeout: 5 * time.Second, SocketTimeout: 15 * time.Second, RPS: 10, Burst: 5}
}

func NewClient(cfg Config, logger log.Logger) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	base := &http.Transport{DialContext: dialer.DialContext}
	lims := &limiters{rps: cfg.RPS, burst: cfg.Burst, logger: logger, perHost: map[string]*rate.Limiter{}}
	return &Client{
		http:    &http.Client{Transport: lims.roundTripper(base), Timeout: cfg.SocketTimeout},
		limiter: lims,
		logger:  logger,
	}
}

// Do performs req, returning a *ClassifiedError (never a bare error) on
// transport failure, so callers can switch on its Class directly.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	return resp, nil
}

// GetJSON performs a GET and decodes a JSON body into out, classifying
// any non-2xx status as ClassStatus.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &ClassifiedError{Class: ClassOther, Err: err}
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return &ClassifiedError{Class: ClassStatus, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))}
	}
	return decodeJSON(resp.Body, out)
}

// PostForm POSTs form-encoded params (exploded: a slice value becomes
// repeated fields of the same name, per spec.md §6's "Cloud-façade call
// pattern") and returns the Location header of a 302 response, or a
// ClassifiedError(ClassStatus) for anything else.
func (c *Client) PostForm(ctx context.Context, rawURL string, params map[string][]string) (location string, err error) {
	form := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, stringsReader(form.Encode()))
	if err != nil {
		return "", &ClassifiedError{Class: ClassOther, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return "", &ClassifiedError{
			Class:      ClassStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)),
		}
	}
	return resp.Header.Get("Location"), nil
}

type limiters struct {
	rps     float64
	burst   int
	logger  log.Logger
	mu      sync.Mutex
	perHost map[string]*rate.Limiter
}

func (l *limiters) roundTripper(base http.RoundTripper) http.RoundTripper {
	return &rateLimitedRoundTripper{limiters: l, base: base}
}

func (l *limiters) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.perHost[host]
	if !ok {
		rl = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.perHost[host] = rl
	}
	return rl
}

func (l *limiters) backOff(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.perHost[host]
	if !ok {
		return
	}
	newLimit := float64(rl.Limit()) / 2
	if newLimit < 0.1 {
		newLimit = 0.1
	}
	if l.logger != nil {
		l.logger.Log("info", "reducing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	rl.SetLimit(rate.Limit(newLimit))
}

type rateLimitedRoundTripper struct {
	limiters *limiters
	base     http.RoundTripper
}

func (t *rateLimitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rl := t.limiters.limiterFor(req.URL.Host)
	if err := rl.Wait(req.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limited")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		t.limiters.backOff(req.URL.Host)
	}
	return resp, nil
}
