package evegateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultAttemptTimeouts is the escalating per-attempt timeout ladder. Each
// retry gets a longer budget, not just a delay before it.
var DefaultAttemptTimeouts = []time.Duration{
	1500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
}

// DefaultNonRetryableKeywords aborts a request immediately when the response
// body contains one of these, regardless of status code. ESI uses "Forbidden"
// bodies for ACL failures that will never succeed on retry.
var DefaultNonRetryableKeywords = []string{"Forbidden"}

// retryableStatus is the set of transient HTTP statuses worth another attempt.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// DefaultRetryClient implements retry logic with escalating per-attempt
// timeouts and exponential backoff between attempts.
type DefaultRetryClient struct {
	httpClient      *http.Client
	attemptTimeouts []time.Duration
	baseDelay       time.Duration
	nonRetryable    []string

	errorLimits ESIErrorLimits
	limitsMutex sync.RWMutex
}

// NewDefaultRetryClient creates a retry client with the default attempt
// ladder, one second base backoff and the default non-retryable keyword set.
func NewDefaultRetryClient(httpClient *http.Client) *DefaultRetryClient {
	return &DefaultRetryClient{
		httpClient:      httpClient,
		attemptTimeouts: DefaultAttemptTimeouts,
		baseDelay:       time.Second,
		nonRetryable:    DefaultNonRetryableKeywords,
	}
}

// WithAttemptTimeouts overrides the per-attempt timeout ladder. The ladder
// length is also the maximum attempt count.
func (r *DefaultRetryClient) WithAttemptTimeouts(timeouts []time.Duration) *DefaultRetryClient {
	r.attemptTimeouts = timeouts
	return r
}

// WithBaseDelay overrides the backoff base delay.
func (r *DefaultRetryClient) WithBaseDelay(d time.Duration) *DefaultRetryClient {
	r.baseDelay = d
	return r
}

// WithNonRetryableKeywords overrides the body keywords that abort retrying.
func (r *DefaultRetryClient) WithNonRetryableKeywords(keywords []string) *DefaultRetryClient {
	r.nonRetryable = keywords
	return r
}

// DoWithRetry performs the request with bounded attempts. The response body is
// fully read and returned; resp.Body is already closed. On exhausted attempts
// the returned error is a *MaxRetriesError wrapping the last failure.
func (r *DefaultRetryClient) DoWithRetry(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	var lastErr error

	for attempt, timeout := range r.attemptTimeouts {
		if attempt > 0 {
			// baseDelay * 2^(attempt-1) after the failure of the previous attempt
			backoff := r.baseDelay * (1 << uint(attempt-1))
			slog.WarnContext(ctx, "Retrying ESI request",
				"attempt", attempt+1,
				"backoff", backoff.String(),
				"url", req.URL.String(),
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, body, err := r.doAttempt(ctx, req, timeout)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrInvalidResponse, err)
			continue
		}

		// Every response except 404 counts against the ESI error limit
		if resp.StatusCode != 404 {
			r.updateErrorLimits(ctx, resp.Header, req)
		}

		// Body keyword abort wins over everything, including retryable statuses
		if kw := r.matchNonRetryable(body); kw != "" {
			slog.WarnContext(ctx, "ESI response contains non-retryable keyword, aborting",
				"keyword", kw,
				"status_code", resp.StatusCode,
				"url", req.URL.String())
			return nil, nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		if resp.StatusCode < 400 {
			return resp, body, nil
		}

		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		if !retryableStatus[resp.StatusCode] {
			return nil, nil, httpErr
		}
		lastErr = httpErr
	}

	return nil, nil, &MaxRetriesError{Attempts: len(r.attemptTimeouts), LastErr: lastErr}
}

// doAttempt runs one attempt under its own deadline. The deadline races the
// request; the body is drained before the deadline is released.
func (r *DefaultRetryClient) doAttempt(ctx context.Context, req *http.Request, timeout time.Duration) (*http.Response, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.httpClient.Do(req.Clone(attemptCtx))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (r *DefaultRetryClient) matchNonRetryable(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	s := string(body)
	for _, kw := range r.nonRetryable {
		if kw != "" && strings.Contains(s, kw) {
			return kw
		}
	}
	return ""
}

// ErrorLimits returns a snapshot of the last observed ESI error limit headers.
func (r *DefaultRetryClient) ErrorLimits() ESIErrorLimits {
	r.limitsMutex.RLock()
	defer r.limitsMutex.RUnlock()
	return r.errorLimits
}

// updateErrorLimits tracks the X-ESI-Error-Limit headers ESI attaches to every
// response, warning when the remaining error budget runs low.
func (r *DefaultRetryClient) updateErrorLimits(ctx context.Context, headers http.Header, req *http.Request) {
	r.limitsMutex.Lock()
	defer r.limitsMutex.Unlock()

	if remainStr := headers.Get("X-ESI-Error-Limit-Remain"); remainStr != "" {
		if remain, err := strconv.Atoi(remainStr); err == nil {
			r.errorLimits.Remain = remain

			if remain <= 50 {
				slog.WarnContext(ctx, "ESI error limit running low",
					"x_esi_error_limit_remain", remain,
					"endpoint", req.URL.String(),
					"method", req.Method,
					"reset_time", r.errorLimits.Reset.Format(time.RFC3339),
					"window", r.errorLimits.Window,
				)
			}
		}
	}

	if resetStr := headers.Get("X-ESI-Error-Limit-Reset"); resetStr != "" {
		if reset, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			r.errorLimits.Reset = time.Unix(reset, 0)
		}
	}

	if windowStr := headers.Get("X-ESI-Error-Limit-Window"); windowStr != "" {
		if window, err := strconv.Atoi(windowStr); err == nil {
			r.errorLimits.Window = window
		}
	}
}
