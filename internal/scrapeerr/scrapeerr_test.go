package scrapeerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	raw := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		ctx      Context
		expected Kind
	}{
		{"Connection refused", raw, Context{}, KindNetwork},
		{"Too many requests", raw, Context{StatusCode: 429}, KindNetwork},
		{"Server error", raw, Context{StatusCode: 503}, KindNetwork},
		{"Not found", raw, Context{StatusCode: 404}, KindNotFound},
		{"Unauthorized", raw, Context{StatusCode: 401}, KindBlocked},
		{"Forbidden", raw, Context{StatusCode: 403}, KindBlocked},
		{"Bad request", raw, Context{StatusCode: 400}, KindUnknown},
		{"Deadline", context.DeadlineExceeded, Context{}, KindTimeout},
		{"Captcha body on 200", raw, Context{StatusCode: 200, Body: `<form action="/errors/validateCaptcha">`}, KindBlocked},
		{"Signin redirect on 503", raw, Context{StatusCode: 503, URL: "https://www.amazon.com/ap/signin?x=1"}, KindBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, tt.ctx)
			assert.Equal(t, tt.expected, got.Kind)
			assert.Equal(t, tt.expected.Retryable(), got.Retryable())
		})
	}
}

func TestClassifyKeepsExistingClassification(t *testing.T) {
	orig := New(KindParsing, "bad payload")
	wrapped := fmt.Errorf("failed to decode: %w", orig)

	got := Classify(wrapped, Context{StatusCode: 503})
	assert.Same(t, orig, got)
}

func TestClassifierUsesMatcher(t *testing.T) {
	cl := Classifier{Matcher: func(c Context) (string, bool) {
		return "custom", c.Body == "nope"
	}}

	assert.Equal(t, KindBlocked, cl.Classify(errors.New("x"), Context{StatusCode: 200, Body: "nope"}).Kind)
	// Default signatures are not consulted once a matcher is set.
	assert.Equal(t, KindUnknown, cl.Classify(errors.New("x"), Context{StatusCode: 200, Body: "validateCaptcha"}).Kind)
}

func TestRetryableIsDerivedFromKind(t *testing.T) {
	for _, k := range []Kind{KindNetwork, KindTimeout} {
		assert.True(t, k.Retryable(), k)
	}
	for _, k := range []Kind{KindBlocked, KindNotFound, KindParsing, KindUnknown} {
		assert.False(t, k.Retryable(), k)
	}
}

func TestErrorUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindNetwork, "submit failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, KindNetwork, KindOf(fmt.Errorf("outer: %w", err)))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(cause))
	assert.Equal(t, KindUnknown, KindOf(cause))
}
