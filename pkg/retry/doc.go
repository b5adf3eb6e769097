// Package retry provides explicit retry policy objects for calls to the ad
// library.
//
// A Policy bundles the attempt budget, a BackoffStrategy and a RetryIf
// predicate. Callers hold a policy value instead of hand written loops:
//
//	policy := retry.FromConfig(cfg.Retry, log)
//	page, err := retry.DoWithResult(ctx, policy, func(ctx context.Context) (*tiktok.Page, error) {
//	    return client.fetchOnce(ctx, req)
//	})
//
// By default only retryable *errors.FetchError values are retried: network
// failures, timeouts, 429 and 5xx responses. A Retry-After hint carried by
// the error raises the next delay, bounded by Policy.MaxDelay. When the
// budget runs out Do returns an *ExhaustedError wrapping the last failure.
package retry
