// Package fetch implements the HTTP fetcher (spec.md §4.4, C4): HEAD
// for ETag discovery and streaming GET, both under a uniform
// retry/backoff policy. It is grounded on mirror.Mirror.download in
// cybozu-go/aptutil, generalized from that fixed-interval retry loop
// to the spec's configurable, jittered backoff.
package fetch

import (
	"context"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/krajole/cachedpath/cachedpath/cperrors"
	"github.com/krajole/cachedpath/cachedpath/progress"
)

// Config configures a Fetcher (subset of spec.md §4.9, C9, that
// pertains to the HTTP transport).
type Config struct {
	MaxRetries     uint32        // default 3
	MaxBackoff     time.Duration // default 5000ms
	Timeout        time.Duration // 0 means no timeout
	ConnectTimeout time.Duration // 0 means no connect timeout
}

// Fetcher issues HEAD and GET requests with retry/backoff, mirroring
// the *http.Client/*http.Transport construction in mirror.NewMirror.
type Fetcher struct {
	client     *http.Client
	maxRetries uint32
	maxBackoff time.Duration
}

// New constructs a Fetcher from cfg.
func New(cfg Config) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}
	if cfg.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		maxBackoff: cfg.MaxBackoff,
	}
}

// backoff returns the jittered sleep duration before retry attempt k
// (zero-indexed), per spec.md §4.4/§9:
// bound = min(2^k * 1000ms, maxBackoff); sleep ~ Uniform[0, bound].
func (f *Fetcher) backoff(k int) time.Duration {
	bound := time.Duration(1<<uint(k)) * time.Second
	if f.maxBackoff > 0 && bound > f.maxBackoff {
		bound = f.maxBackoff
	}
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(bound) + 1))
}

// retriable reports whether err (from client.Do) represents a
// transport-level failure worth retrying. Context cancellation/deadline
// is never retried.
func retriable(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	return true
}

// do runs method against url under the retry policy, returning the
// final *http.Response for any outcome that is not itself a reason to
// retry (i.e. 2xx, or any non-retriable non-2xx status). When every
// attempt is exhausted on a retriable outcome, it returns
// *cperrors.HTTPMaxRetriesError, or *cperrors.HTTPTimeout when the last
// attempt failed with a transport timeout.
func (f *Fetcher) do(ctx context.Context, method, url string) (*http.Response, error) {
	var lastStatus int

	for k := 0; ; k++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, &cperrors.InvalidURL{URL: url}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !retriable(err) {
				return nil, &cperrors.HTTPMaxRetriesError{Status: 0}
			}
			if k < int(f.maxRetries) {
				time.Sleep(f.backoff(k))
				continue
			}
			if isTimeoutErr(err) {
				return nil, &cperrors.HTTPTimeout{}
			}
			return nil, &cperrors.HTTPMaxRetriesError{Status: 0}
		}

		if cperrors.IsRetriableStatus(resp.StatusCode) {
			lastStatus = resp.StatusCode
			resp.Body.Close()
			if k < int(f.maxRetries) {
				time.Sleep(f.backoff(k))
				continue
			}
			return nil, &cperrors.HTTPMaxRetriesError{Status: lastStatus}
		}

		// Success (2xx) or a non-retriable failure status: both are
		// final outcomes handed back to the caller.
		return resp, nil
	}
}

func isTimeoutErr(err error) bool {
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok {
		return t.Timeout()
	}
	return false
}

// GetETag issues a single HEAD (under retry) and returns the ETag
// response header when the final status is 2xx, else nil.
func (f *Fetcher) GetETag(ctx context.Context, url string) (*string, error) {
	resp, err := f.do(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &cperrors.HTTPError{Status: resp.StatusCode}
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return nil, nil
	}
	return &etag, nil
}

// Download streams the GET body of url to w in chunks, invoking
// hook.Tick after each successful chunk write. It does not buffer the
// entire body in memory. hookFactory, when non-nil, is called once the
// response headers (and therefore Content-Length) are known.
func (f *Fetcher) Download(ctx context.Context, url string, w io.Writer, hookFactory func(contentLength *int64) progress.Hook) error {
	resp, err := f.do(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &cperrors.HTTPError{Status: resp.StatusCode}
	}

	var hook progress.Hook = progress.New(progress.None, url, nil)
	if hookFactory != nil {
		var contentLength *int64
		if resp.ContentLength >= 0 {
			cl := resp.ContentLength
			contentLength = &cl
		}
		hook = hookFactory(contentLength)
	}
	defer hook.Finish()

	dst := progress.NewWriter(w, hook)
	buf := make([]byte, 32*1024)
	_, err = io.CopyBuffer(dst, resp.Body, buf)
	return err
}
