// Package worker runs the account workers of a scrape job.
//
// Each worker takes one advertiser at a time and pages through it
// sequentially, so the cursor of an account is owned by exactly one
// goroutine. Fetched pages are streamed on Results in per-account order.
// Accounts from different workers interleave.
//
// Cancelling the pool's context stops new fetches. Requests already in
// flight may finish within the drain timeout and their pages are still
// delivered; after the timeout they are aborted.
package worker
