package tiktok

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the ad library search endpoint
	DefaultBaseURL = "https://library.tiktok.com/api/v1/search"

	// DefaultPageSize is the number of ads requested per page
	DefaultPageSize = 50

	// MaxPageSize is the largest page the endpoint serves
	MaxPageSize = 100

	maxAdvertiserIDLength = 64
)

// SearchURL builds the request URL for one page of an advertiser's ads
func SearchURL(baseURL string, req PageRequest, pageSize int) (string, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q", baseURL)
	}

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	} else if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	params := u.Query()
	params.Set("advertiser_id", req.AdvertiserID)
	params.Set("count", strconv.Itoa(pageSize))
	if !req.Cursor.IsZero() {
		params.Set("cursor", string(req.Cursor))
	}
	if !req.DateRange.Start.IsZero() {
		params.Set("start_date", req.DateRange.Start.Format(time.DateOnly))
	}
	if !req.DateRange.End.IsZero() {
		params.Set("end_date", req.DateRange.End.Format(time.DateOnly))
	}
	u.RawQuery = params.Encode()

	return u.String(), nil
}

// IsValidAdvertiserID checks that an advertiser id can be sent as a query
// parameter: letters, digits, '-', '_' and '.', at most 64 characters.
func IsValidAdvertiserID(id string) bool {
	if id == "" || len(id) > maxAdvertiserIDLength {
		return false
	}

	for _, char := range id {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_' || char == '.') {
			return false
		}
	}

	return true
}

// SanitizeAdvertiserID strips the decorations users paste along with an id:
// surrounding spaces, a leading '@' and trailing slashes.
func SanitizeAdvertiserID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "@")
	return strings.TrimRight(id, "/ ")
}
