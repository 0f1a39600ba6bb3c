// Package connector defines how the pipeline obtains records from an
// external source. Implementations own their transport concerns: rate
// limiting, bounded retries and failure classification all happen before an
// error reaches the caller, and callers never retry.
package connector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/record"
)

// Params selects what to fetch.
type Params struct {
	Dataset   string   `json:"dataset"`
	Geography string   `json:"geography"`
	Variables []string `json:"variables,omitempty"`
	Year      int      `json:"year,omitempty"`
}

// Metadata describes the page a Response holds.
type Metadata struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// Response is one fetch result.
type Response struct {
	Data     []*record.Record `json:"data"`
	Metadata Metadata         `json:"metadata"`
}

// NewResponse wraps records as a single page.
func NewResponse(recs []*record.Record) *Response {
	return &Response{
		Data:     recs,
		Metadata: Metadata{Total: len(recs), Page: 1, PerPage: len(recs)},
	}
}

// Connector fetches geographic records from a source.
type Connector interface {
	FetchGeographicData(ctx context.Context, params Params) (*Response, error)
}

// Func adapts a function to the Connector interface.
type Func func(ctx context.Context, params Params) (*Response, error)

// FetchGeographicData calls f.
func (f Func) FetchGeographicData(ctx context.Context, params Params) (*Response, error) {
	return f(ctx, params)
}

// Failure classifications reported by Classify.
const (
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeConnectorError       = "CONNECTOR_ERROR"
)

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Classify maps a fetch error to its classification code. It returns "" for
// a nil error.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, errors.ErrRateLimitExceeded) {
		return CodeRateLimitExceeded
	}
	if errors.Is(err, errors.ErrAuthenticationFailed) {
		return CodeAuthenticationFailed
	}
	var status *StatusError
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusTooManyRequests:
			return CodeRateLimitExceeded
		case http.StatusUnauthorized:
			return CodeAuthenticationFailed
		}
	}
	return CodeConnectorError
}

// Classified wraps a final status error in the matching sentinel so callers
// can use errors.Is.
func Classified(err error) error {
	switch Classify(err) {
	case "":
		return nil
	case CodeRateLimitExceeded:
		if errors.Is(err, errors.ErrRateLimitExceeded) {
			return err
		}
		return errors.Wrap(errors.ErrRateLimitExceeded, err.Error())
	case CodeAuthenticationFailed:
		if errors.Is(err, errors.ErrAuthenticationFailed) {
			return err
		}
		return errors.Wrap(errors.ErrAuthenticationFailed, err.Error())
	default:
		return err
	}
}

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration // default 100ms, doubled per attempt
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether Retry would try again after err: 429 and 5xx
// answers and transport failures are retried; other statuses, context errors
// and Permanent errors are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500
	}
	return true
}

// Retry runs fn until it succeeds, fails with a non-retryable error, or
// MaxRetries retries have been spent. The last error is returned unwrapped
// so it can be classified.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if !Retryable(err) || attempt == p.MaxRetries {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * base
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}
