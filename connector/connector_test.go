package connector

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/record"
)

func TestFuncAdapter(t *testing.T) {
	var got Params
	var c Connector = Func(func(ctx context.Context, p Params) (*Response, error) {
		got = p
		return NewResponse([]*record.Record{{ID: "a"}, {ID: "b"}}), nil
	})

	resp, err := c.FetchGeographicData(context.Background(), Params{Dataset: "acs/acs5", Year: 2021})
	require.NoError(t, err)
	assert.Equal(t, "acs/acs5", got.Dataset)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, Metadata{Total: 2, Page: 1, PerPage: 2}, resp.Metadata)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"rate limit sentinel", errors.Wrap(errors.ErrRateLimitExceeded, "census"), CodeRateLimitExceeded},
		{"auth sentinel", errors.ErrAuthenticationFailed, CodeAuthenticationFailed},
		{"429 status", &StatusError{StatusCode: http.StatusTooManyRequests}, CodeRateLimitExceeded},
		{"401 status", errors.Wrap(&StatusError{StatusCode: http.StatusUnauthorized}, "fetch"), CodeAuthenticationFailed},
		{"500 status", &StatusError{StatusCode: http.StatusBadGateway}, CodeConnectorError},
		{"transport", io.ErrUnexpectedEOF, CodeConnectorError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassified(t *testing.T) {
	err := Classified(&StatusError{StatusCode: http.StatusTooManyRequests, Body: "slow down"})
	assert.True(t, errors.Is(err, errors.ErrRateLimitExceeded))
	assert.Contains(t, err.Error(), "RATE_LIMIT_EXCEEDED")

	err = Classified(&StatusError{StatusCode: http.StatusUnauthorized})
	assert.True(t, errors.Is(err, errors.ErrAuthenticationFailed))

	plain := &StatusError{StatusCode: http.StatusNotFound}
	assert.Same(t, plain, Classified(plain))
	assert.Nil(t, Classified(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&StatusError{StatusCode: 429}))
	assert.True(t, Retryable(&StatusError{StatusCode: 503}))
	assert.True(t, Retryable(io.ErrUnexpectedEOF))
	assert.False(t, Retryable(&StatusError{StatusCode: 401}))
	assert.False(t, Retryable(&StatusError{StatusCode: 404}))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(Permanent(io.ErrUnexpectedEOF)))
	assert.False(t, Retryable(nil))
}

func TestRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
			assert.Equal(t, calls, attempt)
			calls++
			if calls < 3 {
				return &StatusError{StatusCode: 503}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
			calls++
			return &StatusError{StatusCode: 429}
		})
		require.Error(t, err)
		assert.Equal(t, 4, calls)
		assert.Equal(t, CodeRateLimitExceeded, Classify(err))
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
			calls++
			return &StatusError{StatusCode: 401}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("unwraps permanent errors", func(t *testing.T) {
		err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
			return Permanent(io.ErrUnexpectedEOF)
		})
		assert.Same(t, io.ErrUnexpectedEOF, err)
	})

	t.Run("honours cancellation between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}, func(ctx context.Context, attempt int) error {
			calls++
			cancel()
			return &StatusError{StatusCode: 500}
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
