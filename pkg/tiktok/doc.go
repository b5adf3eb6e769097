// Package tiktok provides a client for the TikTok ad library search API.
//
// The client requests one page of an advertiser's ads at a time and returns
// the raw ad objects together with the cursor of the next page:
//
//	client := tiktok.NewClient(tiktok.Options{
//	    BaseURL: cfg.API.BaseURL,
//	    Limiter: limiter,
//	    Retry:   retry.FromConfig(cfg.Retry, log),
//	}, log)
//
//	req := tiktok.PageRequest{AdvertiserID: "7012345678"}
//	for {
//	    page, err := client.Fetch(ctx, req)
//	    if err != nil {
//	        var fe *errors.FetchError
//	        if errors.As(err, &fe) && fe.Type == errors.ErrorTypeAuth {
//	            // check the access token
//	        }
//	        return err
//	    }
//	    // normalize page.Ads
//	    if !page.HasMore() {
//	        break
//	    }
//	    req.Cursor = page.Next
//	}
//
// Server errors, timeouts and 429 responses are retried with backoff; a
// Retry-After header raises the next delay. Other 4xx responses and
// malformed JSON fail immediately.
package tiktok
