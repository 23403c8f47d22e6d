package scrapeerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind is the closed set of failure categories surfaced by scrapers.
type Kind string

const (
	KindNetwork  Kind = "NETWORK"
	KindTimeout  Kind = "TIMEOUT"
	KindBlocked  Kind = "BLOCKED"
	KindNotFound Kind = "NOT_FOUND"
	KindParsing  Kind = "PARSING"
	KindUnknown  Kind = "UNKNOWN"
)

// Retryable reports whether repeating the call can plausibly succeed.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindTimeout
}

func (k Kind) String() string {
	return string(k)
}

// Error is a classified scraping failure.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable is derived from the kind and cannot be set independently.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindUnknown if there is none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable classification.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// Context describes the response, if any, that accompanied a failure.
// A zero StatusCode means no response was received.
type Context struct {
	StatusCode int
	Body       string
	URL        string
}

// Matcher reports whether response content looks like an anti-bot denial.
type Matcher func(c Context) (reason string, blocked bool)

// DefaultSignatures are matched case-insensitively against body and URL
// when no Matcher is configured.
var DefaultSignatures = []string{
	"/ap/signin",
	"validatecaptcha",
	"to discuss automated access to amazon data",
	"sorry, we just need to make sure you're not a robot",
	"enter the characters you see below",
}

// Classifier maps raw failures to classified errors. The zero value uses
// DefaultSignatures.
type Classifier struct {
	Matcher Matcher
}

var defaultClassifier Classifier

// Classify uses the default classifier.
func Classify(err error, c Context) *Error {
	return defaultClassifier.Classify(err, c)
}

// Classify applies, in order: existing classification, block signature,
// timeout, missing response, status code.
func (cl Classifier) Classify(err error, c Context) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	if reason, blocked := cl.match(c); blocked {
		return &Error{Kind: KindBlocked, Message: reason, StatusCode: c.StatusCode, Cause: err}
	}

	if isTimeout(err) {
		return &Error{Kind: KindTimeout, Message: "request timed out", StatusCode: c.StatusCode, Cause: err}
	}

	if c.StatusCode == 0 {
		return &Error{Kind: KindNetwork, Message: "no response received", Cause: err}
	}

	kind := KindUnknown
	switch {
	case c.StatusCode == http.StatusTooManyRequests || c.StatusCode >= 500:
		kind = KindNetwork
	case c.StatusCode == http.StatusNotFound:
		kind = KindNotFound
	case c.StatusCode == http.StatusUnauthorized || c.StatusCode == http.StatusForbidden:
		kind = KindBlocked
	}

	return &Error{
		Kind:       kind,
		Message:    fmt.Sprintf("unexpected status %d", c.StatusCode),
		StatusCode: c.StatusCode,
		Cause:      err,
	}
}

func (cl Classifier) match(c Context) (string, bool) {
	if cl.Matcher != nil {
		return cl.Matcher(c)
	}
	body := strings.ToLower(c.Body)
	url := strings.ToLower(c.URL)
	for _, sig := range DefaultSignatures {
		if strings.Contains(body, sig) || strings.Contains(url, sig) {
			return fmt.Sprintf("block signature %q", sig), true
		}
	}
	return "", false
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
