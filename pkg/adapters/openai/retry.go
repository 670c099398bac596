package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goopenai "github.com/sashabaranov/go-openai"
)

// RetryPolicy controls exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	Factor      float64       `yaml:"factor" json:"factor"`
}

// DefaultRetryPolicy is three attempts starting at one second, doubling up to ten.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Factor: 2}
}

func (p RetryPolicy) normalized() RetryPolicy {
	q := p
	if q.MaxAttempts < 1 {
		q.MaxAttempts = 1
	}
	if q.BaseDelay <= 0 {
		q.BaseDelay = time.Second
	}
	if q.MaxDelay < q.BaseDelay {
		q.MaxDelay = q.BaseDelay
	}
	if q.Factor < 1 {
		q.Factor = 2
	}
	return q
}

// newBackOff builds the exponential schedule for one request. Jitter is off so
// the waits follow the policy exactly.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	q := p.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.BaseDelay
	b.MaxInterval = q.MaxDelay
	b.Multiplier = q.Factor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// RetryKind classifies a transient failure.
type RetryKind string

const (
	RetryNetwork     RetryKind = "network"
	RetryTimeout     RetryKind = "timeout"
	RetryRateLimit   RetryKind = "rate_limit"
	RetryExhausted   RetryKind = "exhausted"
	RetryUnavailable RetryKind = "unavailable"
)

// Classify reports whether err is worth retrying and why.
func Classify(err error) (RetryKind, bool) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return "", false
	}

	if status := httpStatus(err); status != 0 {
		switch {
		case status == http.StatusTooManyRequests:
			return RetryRateLimit, true
		case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
			return RetryTimeout, true
		case status >= 500:
			return RetryUnavailable, true
		default:
			return "", false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return RetryTimeout, true
		}
		return RetryNetwork, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetryTimeout, true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return RetryTimeout, true
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return RetryNetwork, true
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return RetryRateLimit, true
	case strings.Contains(msg, "exhausted"):
		return RetryExhausted, true
	case strings.Contains(msg, "temporary") || strings.Contains(msg, "unavailable"):
		return RetryUnavailable, true
	}
	return "", false
}

func httpStatus(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// retry runs op until it succeeds, fails with an error Classify rejects, or the
// policy's attempts are used up.
func retry[T any](ctx context.Context, p RetryPolicy, onRetry func(attempt int, kind RetryKind, err error), op func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	schedule := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(p.MaxAttempts-1)), ctx)

	attempt := 0
	notify := func(err error, _ time.Duration) {
		attempt++
		if onRetry != nil {
			kind, _ := Classify(err)
			onRetry(attempt, kind, err)
		}
	}
	return backoff.RetryNotifyWithData(func() (T, error) {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return out, err
		}
		if _, ok := Classify(err); !ok || ctx.Err() != nil {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, schedule, notify)
}
