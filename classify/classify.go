// Package classify maps provider failures onto retry decisions.
//
// Classification is a pure function of the failure's HTTP status, message
// and error name. Rules are checked in priority order:
//
//  1. 4xx other than 429: not retryable
//  2. quota phrasing with a long horizon (daily, billing): not retryable
//  3. 429, or "quota"/"rate limit" phrasing: retryable, rate limited
//  4. 5xx, network failure, timeout: retryable
//  5. anything else: not retryable
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rashee1997/orchestrator-sub006/provider"
)

// Kind names the category a failure falls into.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindAuthentication
	KindMalformedRequest
	KindQuotaExhausted
	KindRateLimited
	KindTransient
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindMalformedRequest:
		return "malformed_request"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Failure is the classifier input.
type Failure struct {
	Status  int
	Message string
	Name    string
}

// Verdict is the classifier output.
type Verdict struct {
	ShouldRetry bool
	IsRateLimit bool
	Kind        Kind
}

// Long-horizon quota phrasing. These signal a credential that is unusable
// for the rest of a billing period, not a per-minute throttle.
var exhaustedPhrases = []string{
	"daily limit",
	"daily quota",
	"per day",
	"perday",
	"requests per day",
	"quota exceeded for today",
	"billing",
	"insufficient_quota",
	"exceeded your current quota",
	"credit balance is too low",
	"monthly limit",
}

var rateLimitPhrases = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"quota",
	"too many requests",
	"resource_exhausted",
	"resource exhausted",
}

var transientNames = []string{
	"timeouterror",
	"aborterror",
	"networkerror",
	"fetcherror",
	"econnreset",
	"etimedout",
	"econnrefused",
	"deadline_exceeded",
}

// transientPhrases match whole words only, so "eof" does not match
// "proof".
var transientPhrases = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"network error",
	"network is unreachable",
	"no route to host",
	"socket hang up",
	"unexpected eof",
	"eof",
	"overloaded",
	"temporarily unavailable",
}

// Classify maps a failure to a verdict.
func Classify(f Failure) Verdict {
	msg := strings.ToLower(f.Message)
	name := strings.ToLower(f.Name)

	if f.Status >= 400 && f.Status < 500 && f.Status != http.StatusTooManyRequests {
		kind := KindMalformedRequest
		if f.Status == http.StatusUnauthorized || f.Status == http.StatusForbidden {
			kind = KindAuthentication
		}
		return Verdict{Kind: kind}
	}

	if containsAny(msg, exhaustedPhrases) || containsAny(name, exhaustedPhrases) {
		return Verdict{Kind: KindQuotaExhausted}
	}

	if f.Status == http.StatusTooManyRequests || containsAny(msg, rateLimitPhrases) || containsAny(name, rateLimitPhrases) {
		return Verdict{ShouldRetry: true, IsRateLimit: true, Kind: KindRateLimited}
	}

	if f.Status >= 500 || containsAny(name, transientNames) || containsWord(msg, transientPhrases) {
		return Verdict{ShouldRetry: true, Kind: KindTransient}
	}

	return Verdict{Kind: KindUnknown}
}

// FromError extracts classifier input from an error returned by a
// transport or by the dispatcher's own deadline handling.
func FromError(err error) Failure {
	if err == nil {
		return Failure{}
	}

	var f Failure
	var perr *provider.Error
	if errors.As(err, &perr) {
		f = Failure{Status: perr.Status, Message: perr.Message, Name: perr.Name}
		if f.Message == "" {
			f.Message = err.Error()
		}
	} else {
		f.Message = err.Error()
	}

	if f.Status == 0 {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			f.Name = "TimeoutError"
		case errors.As(err, &netErr) && netErr.Timeout():
			f.Name = "TimeoutError"
		case errors.As(err, &netErr):
			f.Name = "NetworkError"
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			f.Name = "NetworkError"
		}
	}
	return f
}

// Error classifies err directly.
func Error(err error) Verdict {
	return Classify(FromError(err))
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// containsWord reports whether s contains one of needles with no word
// character directly before or after it.
func containsWord(s string, needles []string) bool {
	for _, n := range needles {
		for from := 0; from+len(n) <= len(s); {
			i := strings.Index(s[from:], n)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(n)
			if !isWordByte(s, start-1) && !isWordByte(s, end) {
				return true
			}
			from = start + 1
		}
	}
	return false
}

func isWordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
