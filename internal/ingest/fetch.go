package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// Fetch defaults.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultFetchRate    = 2.0
	maxRedirects        = 5
	userAgent           = "assistkb"
)

// ErrGone reports a URL that answered 404 or 410.
var ErrGone = errors.New("document is gone")

// Fetched is the body of one URL.
type Fetched struct {
	URL         string
	ContentType string
	Body        []byte
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// Fetcher downloads HTTPS documents at a bounded rate.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	maxBytes int64
	retry    kberrors.RetryConfig
}

// NewFetcher creates a Fetcher allowing perSecond requests with a burst of
// one. A nil client uses a default one. Redirects must stay on https.
func NewFetcher(client *http.Client, perSecond float64, timeout time.Duration, maxBytes int64) *Fetcher {
	if perSecond <= 0 {
		perSecond = DefaultFetchRate
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileSize
	}
	c := &http.Client{}
	if client != nil {
		cp := *client
		c = &cp
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.New("too many redirects")
		}
		return validation.ValidateHTTPSURL(req.URL.String())
	}

	retry := kberrors.DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.InitialDelay = 250 * time.Millisecond
	retry.ShouldRetry = func(err error) bool {
		var se *statusError
		if errors.As(err, &se) {
			return se.code == http.StatusTooManyRequests || se.code >= 500
		}
		if _, ok := kberrors.As(err); ok {
			return false
		}
		return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrGone)
	}

	return &Fetcher{
		client:   c,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		timeout:  timeout,
		maxBytes: maxBytes,
		retry:    retry,
	}
}

// Fetch downloads url. A 404 or 410 wraps ErrGone; other failures are
// FetchFailed errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Fetched, error) {
	if err := validation.ValidateHTTPSURL(url); err != nil {
		return nil, err
	}
	res, err := kberrors.RetryWithResult(ctx, f.retry, func() (*Fetched, error) {
		return f.once(ctx, url)
	})
	if err == nil {
		return res, nil
	}
	if _, ok := kberrors.As(err); ok || errors.Is(err, ErrGone) || ctx.Err() != nil {
		return nil, err
	}
	return nil, kberrors.New(kberrors.ErrCodeFetchFailed, "fetch failed", err).WithDetail("url", url)
}

func (f *Fetcher) once(ctx context.Context, url string) (*Fetched, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, text/markdown, text/plain;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: status %d", ErrGone, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, kberrors.New(kberrors.ErrCodeFileTooLarge, "document exceeds the size limit", nil).
			WithDetail("url", url)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return &Fetched{URL: url, ContentType: ct, Body: body}, nil
}
