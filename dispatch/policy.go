package dispatch

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy decides whether a non-2xx, non-401 response is a transient
// failure (true) or a semantic outcome returned to the caller (false). It has
// the shape of retryablehttp.CheckRetry, so retryablehttp policies can be used
// directly. Transport errors are always transient and never reach the policy.
// A non-nil error aborts the dispatch: it is returned to the caller wrapped,
// without consuming further attempts.
type RetryPolicy func(ctx context.Context, resp *http.Response, err error) (bool, error)

// DefaultRetryPolicy retries 429 and 5xx responses except 501.
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// RetryOnStatus extends a policy with additional retryable status codes,
// e.g. http.StatusConflict for backends that report eventual-consistency
// conflicts.
func RetryOnStatus(policy RetryPolicy, codes ...int) RetryPolicy {
	if policy == nil {
		policy = DefaultRetryPolicy
	}
	retryable := make(map[int]bool, len(codes))
	for _, code := range codes {
		retryable[code] = true
	}
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && retryable[resp.StatusCode] {
			return true, nil
		}
		return policy(ctx, resp, err)
	}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
