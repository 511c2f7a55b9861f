package retry

import (
	"context"
	"errors"
	"strings"

	"karbon/internal/anchor/chain"
)

// Error classification. Only transient network conditions are worth
// retrying; validation and permanent chain failures (bad policy, bad
// signature, bad address) propagate immediately.

var retryableFragments = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"network",
	"temporarily unavailable",
	"unavailable",
	"rate limit",
	"too many requests",
	"congest",
	"mempool full",
	"eof",
	"503",
	"502",
}

var networkUnavailableFragments = []string{
	"connection refused",
	"connection reset",
	"network",
	"unavailable",
	"no such host",
	"eof",
	"503",
	"502",
}

// IsRetryable reports whether the error looks like a transient network
// condition. Typed chain.RetryableError always qualifies; otherwise the
// message is matched against known transient fragments.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *chain.RetryableError
	if errors.As(err, &re) {
		return true
	}
	var pe *chain.PermanentError
	if errors.As(err, &pe) {
		return false
	}
	return containsAny(err.Error(), retryableFragments)
}

// IsNetworkUnavailable reports whether the error indicates the network itself
// is unreachable. These count toward the fallback threshold.
func IsNetworkUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var re *chain.RetryableError
	if errors.As(err, &re) && re.Unavailable {
		return true
	}
	return containsAny(err.Error(), networkUnavailableFragments)
}

func containsAny(msg string, fragments []string) bool {
	msg = strings.ToLower(msg)
	for _, f := range fragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}
