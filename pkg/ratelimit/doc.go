// Package ratelimit keeps the scraper under the ad library's request budget.
//
// Two algorithms implement Limiter:
//
//   - TokenBucket refills continuously and allows short bursts. It is the
//     default and is configured as requests per minute plus a burst size.
//   - SlidingWindow never lets more than N requests fall into any window.
//
// One limiter is shared by every account worker, and the fetcher waits on it
// before each HTTP attempt, retries included:
//
//	limiter, err := ratelimit.New(cfg.RateLimit)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // ctx cancelled
//	}
package ratelimit
