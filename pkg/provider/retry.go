package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Retry schedule for provider calls. Attempt n waits
// min(retryCap, retryBase * 2^(n-1)) unless the remote sent a shorter
// Retry-After hint.
const (
	retryBase = 1500 * time.Millisecond
	retryCap  = 15 * time.Second
)

// NewHTTPClient builds the retrying HTTP client shared by all providers.
// Only transient failures are retried in place; terminal statuses surface
// immediately so callers can react (or fail the archive).
func NewHTTPClient(maxRetries int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries
	client.RetryWaitMin = retryBase
	client.RetryWaitMax = retryCap
	client.Logger = nil
	client.CheckRetry = checkRetry
	client.Backoff = backoff
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.Timeout = 5 * time.Minute
	return client
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return isNetworkTransient(err), nil
	}
	return isRetryableStatus(resp.StatusCode), nil
}

func backoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil {
		if hint := retryAfter(resp); hint > 0 {
			if hint > max {
				return max
			}
			return hint
		}
	}
	delay := min << attemptNum
	if delay > max || delay < min {
		return max
	}
	return delay
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func isNetworkTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Resolver failures on some platforms only surface as strings.
	msg := err.Error()
	return strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EAI_AGAIN")
}

// IsTransient reports whether err is worth retrying at the archive level:
// throttling, server errors, or network failures. Terminal provider
// responses (4xx other than 429) are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if code := StatusCode(err); code != 0 {
		return isRetryableStatus(code)
	}
	return isNetworkTransient(err)
}

func asStatusError(err error, target **StatusError) bool {
	return errors.As(err, target)
}
