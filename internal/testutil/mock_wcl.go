// Package testutil provides testing utilities for the Warcraft Logs client.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path prefix the mock serves, matching the real v1 API.
const APIPrefix = "/v1/"

// MockResponse defines the behavior for one mock WCL response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockWCL is a configurable mock Warcraft Logs API server for testing.
// Paths passed to its setters are endpoint paths relative to the API root,
// e.g. "report/events/damage-done/ABC123".
type MockWCL struct {
	server    *httptest.Server
	mu        sync.Mutex
	sequences map[string][]MockResponse
	handlers  map[string]http.HandlerFunc
	requests  []*http.Request
	queries   map[string][]url.Values
}

// NewMockWCL creates a new mock WCL server.
func NewMockWCL() *MockWCL {
	mock := &MockWCL{
		sequences: make(map[string][]MockResponse),
		handlers:  make(map[string]http.HandlerFunc),
		queries:   make(map[string][]url.Values),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockWCL) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.EscapedPath(), APIPrefix)

	m.mu.Lock()
	m.requests = append(m.requests, r.Clone(r.Context()))
	m.queries[path] = append(m.queries[path], r.URL.Query())

	handler, hasHandler := m.handlers[path]

	var resp MockResponse
	seq, hasSeq := m.sequences[path]
	if hasSeq {
		resp = seq[0]
		if len(seq) > 1 {
			m.sequences[path] = seq[1:]
		}
	}
	m.mu.Unlock()

	switch {
	case hasHandler:
		handler(w, r)
	case hasSeq:
		writeResponse(w, resp)
	default:
		writeResponse(w, MockResponse{
			StatusCode: http.StatusNotFound,
			Body:       `{"status":404,"error":"Not found"}`,
		})
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// URL returns the API root of the mock server, with trailing slash.
func (m *MockWCL) URL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockWCL) Close() {
	m.server.Close()
}

// Reset clears recorded requests. Configured responses are kept.
func (m *MockWCL) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queries = make(map[string][]url.Values)
}

// SetHandler sets a custom handler for an endpoint path.
func (m *MockWCL) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse serves resp for every request to path.
func (m *MockWCL) SetResponse(path string, resp MockResponse) {
	m.SetSequence(path, resp)
}

// SetSequence serves responses in order; the last one repeats.
func (m *MockWCL) SetSequence(path string, responses ...MockResponse) {
	if len(responses) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[path] = append([]MockResponse(nil), responses...)
}

// SetPages serves JSON bodies with status 200 in order.
func (m *MockWCL) SetPages(path string, bodies ...string) {
	responses := make([]MockResponse, len(bodies))
	for i, body := range bodies {
		responses[i] = MockResponse{StatusCode: http.StatusOK, Body: body}
	}
	m.SetSequence(path, responses...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockWCL) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Queries returns the query strings received for path, in order.
func (m *MockWCL) Queries(path string) []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.queries[path]...)
}

// LastRequest returns the most recent request, or nil.
func (m *MockWCL) LastRequest() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}
