package tiktok

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"tiktokads/pkg/models"
)

// PageRequest asks for one page of an advertiser's ads
type PageRequest struct {
	AdvertiserID string
	Cursor       models.PageCursor
	DateRange    models.DateRange
}

// Page is one decoded page of the ad library
type Page struct {
	Ads []models.RawAd
	// Next is empty when there are no more pages
	Next models.PageCursor
	// Skipped counts list entries that were not JSON objects
	Skipped int
}

// HasMore reports whether another page follows
func (p *Page) HasMore() bool {
	return !p.Next.IsZero()
}

var (
	adListKeys  = []string{"ads", "adList", "items", "records"}
	cursorKeys  = []string{"cursor", "next_cursor", "nextCursor"}
	hasMoreKeys = []string{"has_more", "hasMore"}
)

// ParsePage decodes a response body. Ads are read from one of the known list
// keys at the top level or under "data", or from a bare array. Pagination
// ends when has_more is false, no cursor is given or the list is empty.
func ParsePage(body []byte) (*Page, error) {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var (
		items   []interface{}
		scopes  []map[string]interface{}
		hasMore = true
	)

	switch v := doc.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		scopes = append(scopes, v)
		switch data := v["data"].(type) {
		case map[string]interface{}:
			scopes = append(scopes, data)
		case []interface{}:
			items = data
		}
		if items == nil {
			items = findList(scopes)
		}
	default:
		return nil, fmt.Errorf("unexpected response of type %T", doc)
	}

	page := &Page{Ads: make([]models.RawAd, 0, len(items))}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			page.Skipped++
			continue
		}
		page.Ads = append(page.Ads, models.RawAd(obj))
	}

	if v, ok := lookup(scopes, hasMoreKeys); ok {
		hasMore = truthy(v)
	}
	if hasMore && len(page.Ads) > 0 {
		if v, ok := lookup(scopes, cursorKeys); ok {
			page.Next = models.PageCursor(cursorString(v))
		}
	}
	return page, nil
}

func findList(scopes []map[string]interface{}) []interface{} {
	for _, scope := range scopes {
		for _, key := range adListKeys {
			if list, ok := scope[key].([]interface{}); ok {
				return list
			}
		}
	}
	return nil
}

// lookup returns the first non-null value under any of keys, searching the
// top level before the data object
func lookup(scopes []map[string]interface{}, keys []string) (interface{}, bool) {
	for _, scope := range scopes {
		for _, key := range keys {
			if v, ok := scope[key]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case fmt.Stringer:
		// json.Number
		n, err := strconv.ParseFloat(t.String(), 64)
		return err == nil && n != 0
	default:
		return false
	}
}

func cursorString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}
