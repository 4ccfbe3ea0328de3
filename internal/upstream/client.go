// Package upstream is the shared HTTP client for external services. Every
// call goes through a circuit breaker and is recorded in metrics.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"hydrowave/api/internal/logging"
	"hydrowave/api/internal/metrics"
)

const maxBodyBytes = 4 << 20

var (
	ErrTimeout     = errors.New("upstream request timed out")
	ErrUnavailable = errors.New("upstream temporarily unavailable")
)

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Upstream, e.StatusCode)
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Response]
}

type Options struct {
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Transport        http.RoundTripper
}

func NewClient(name string, opts Options) *Client {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	c := &Client{
		name: name,
		http: &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
	}
	metrics.SetCircuitBreakerState(name, 0)
	c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			metrics.SetCircuitBreakerState(name, stateValue(to))
		},
	})
	return c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) Name() string { return c.name }

// Do sends req. The returned error is ErrTimeout, ErrUnavailable, a
// *StatusError, or a wrapped transport error.
func (c *Client) Do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.roundTrip(req)
	})
	metrics.RecordUpstream(c.name, outcome(err), time.Since(start))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", c.name, ErrUnavailable)
	}
	return resp, err
}

func (c *Client) roundTrip(req *http.Request) (*Response, error) {
	httpResp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%s: %w", c.name, ErrTimeout)
		}
		return nil, fmt.Errorf("%s request: %w", c.name, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%s: %w", c.name, ErrTimeout)
		}
		return nil, fmt.Errorf("read %s response: %w", c.name, err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{Upstream: c.name, StatusCode: httpResp.StatusCode, Body: body}
	}
	return resp, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	case errors.As(err, &se):
		return "http_error"
	default:
		return "network_error"
	}
}
