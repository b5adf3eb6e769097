// Package adlibtest provides an in-process fake of the ad library search
// endpoint for tests.
package adlibtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SearchPath is the path the fake serves
const SearchPath = "/api/v1/search"

// Server simulates the ad library with per-advertiser data and scripted
// failures
type Server struct {
	server       *httptest.Server
	mu           sync.RWMutex
	ads          map[string][]map[string]interface{}
	failNext     map[string][]int
	failAlways   map[string]int
	delays       map[string]time.Duration
	retryAfter   string
	token        string
	requestCount int32
	requests     map[string]int
	cursors      map[string][]string
}

// NewServer starts a fake ad library
func NewServer() *Server {
	m := &Server{
		ads:        make(map[string][]map[string]interface{}),
		failNext:   make(map[string][]int),
		failAlways: make(map[string]int),
		delays:     make(map[string]time.Duration),
		requests:   make(map[string]int),
		cursors:    make(map[string][]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(SearchPath, m.handleSearch)
	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the search endpoint of the fake
func (m *Server) URL() string {
	return m.server.URL + SearchPath
}

// Close shuts down the server
func (m *Server) Close() {
	m.server.Close()
}

// AddAds appends ads served for an advertiser
func (m *Server) AddAds(advertiser string, ads ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ads[advertiser] = append(m.ads[advertiser], ads...)
}

// FailNext makes the next requests for an advertiser answer with the given
// status codes, in order
func (m *Server) FailNext(advertiser string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[advertiser] = append(m.failNext[advertiser], statuses...)
}

// FailAlways makes every request for an advertiser answer with status
func (m *Server) FailAlways(advertiser string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAlways[advertiser] = status
}

// SetDelay delays responses for an advertiser
func (m *Server) SetDelay(advertiser string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[advertiser] = delay
}

// SetRetryAfter sets the Retry-After header sent with 429 and 503 responses
func (m *Server) SetRetryAfter(value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryAfter = value
}

// RequireToken rejects requests without this bearer token
func (m *Server) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// RequestCount returns the total number of requests
func (m *Server) RequestCount() int {
	return int(atomic.LoadInt32(&m.requestCount))
}

// RequestsFor returns the number of requests for an advertiser
func (m *Server) RequestsFor(advertiser string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[advertiser]
}

// CursorsFor returns the cursors an advertiser was requested with, in order
func (m *Server) CursorsFor(advertiser string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.cursors[advertiser])
}

func (m *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.requestCount, 1)

	q := r.URL.Query()
	advertiser := q.Get("advertiser_id")
	cursor := q.Get("cursor")

	status, delay, retryAfter, authorized := m.record(r, advertiser, cursor)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if !authorized {
		m.sendError(w, http.StatusUnauthorized, "missing or invalid access token")
		return
	}
	if status != 0 {
		if retryAfter != "" && (status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable) {
			w.Header().Set("Retry-After", retryAfter)
		}
		m.sendError(w, status, advertiser)
		return
	}

	count, err := strconv.Atoi(q.Get("count"))
	if err != nil || count <= 0 {
		count = 50
	}
	offset := 0
	if cursor != "" {
		offset, err = strconv.Atoi(cursor)
		if err != nil || offset < 0 {
			m.sendError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
	}

	m.mu.RLock()
	all := m.ads[advertiser]
	end := min(offset+count, len(all))
	var page []map[string]interface{}
	if offset < len(all) {
		page = slices.Clone(all[offset:end])
	}
	m.mu.RUnlock()

	hasMore := end < len(all)
	data := map[string]interface{}{
		"ads":      page,
		"has_more": hasMore,
	}
	if hasMore {
		data["cursor"] = strconv.Itoa(end)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code": 0,
		"data": data,
	})
}

// record counts the request and pops the scripted outcome for it
func (m *Server) record(r *http.Request, advertiser, cursor string) (status int, delay time.Duration, retryAfter string, authorized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[advertiser]++
	m.cursors[advertiser] = append(m.cursors[advertiser], cursor)

	authorized = m.token == "" || r.Header.Get("Authorization") == "Bearer "+m.token
	if queue := m.failNext[advertiser]; len(queue) > 0 {
		status = queue[0]
		m.failNext[advertiser] = queue[1:]
	} else {
		status = m.failAlways[advertiser]
	}
	return status, m.delays[advertiser], m.retryAfter, authorized
}

func (m *Server) sendError(w http.ResponseWriter, code int, context string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": fmt.Sprintf("%s: %s", http.StatusText(code), context),
	})
}

// Ad builds a raw ad the way the library returns it: epoch seconds for the
// first shown date and an ISO date for the last one
func Ad(id, advertiser string, first, last time.Time) map[string]interface{} {
	return map[string]interface{}{
		"ad_id":            id,
		"advertiser_id":    advertiser,
		"adVideoUrl":       fmt.Sprintf("https://cdn.example.com/%s.mp4", id),
		"first_shown_date": first.Unix(),
		"last_shown_date":  last.UTC().Format(time.RFC3339),
		"impressions":      "10K-100K",
		"region":           "US",
	}
}

// Ads builds n ads for an advertiser, all seen on day
func Ads(advertiser string, n int, day time.Time) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Ad(fmt.Sprintf("%s-ad-%03d", advertiser, i), advertiser, day, day.Add(time.Hour)))
	}
	return out
}
