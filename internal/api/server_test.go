package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/pagesnap/internal/capture"
	"github.com/dgnsrekt/pagesnap/internal/controller"
)

type stubService struct {
	mu        sync.Mutex
	last      capture.Request
	result    *capture.Result
	err       error
	available bool
	cleared   int
}

func (s *stubService) Capture(ctx context.Context, req capture.Request) (*capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = req
	if _, err := req.Normalize(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &capture.Result{Data: []byte("\x89PNG-bytes"), Format: capture.FormatPNG, Size: 10, Width: 640, Height: 480}, nil
}

func (s *stubService) ClearCache(ctx context.Context) controller.ClearResult {
	if !s.available {
		return controller.ClearResult{Reason: "cache service not available"}
	}
	s.cleared++
	return controller.ClearResult{Cleared: true}
}

func (s *stubService) CacheAvailable() bool { return s.available }

func (s *stubService) lastRequest() capture.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func postJSON(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/screenshot", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestDocsDarkMode(t *testing.T) {
	h := NewServer(&stubService{}, Options{})
	w := serve(h, httptest.NewRequest(http.MethodGet, "/docs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestHealthReportsCacheAvailability(t *testing.T) {
	for _, tc := range []struct {
		available bool
		want      string
	}{{true, "available"}, {false, "unavailable"}} {
		h := NewServer(&stubService{available: tc.available}, Options{})
		w := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var body struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Cache     string    `json:"cache"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode health: %v", err)
		}
		if body.Status != "ok" || body.Cache != tc.want || body.Timestamp.IsZero() {
			t.Fatalf("health = %+v, want cache %q", body, tc.want)
		}
	}
}

func TestPostScreenshotReturnsImage(t *testing.T) {
	svc := &stubService{result: &capture.Result{
		Data: []byte("jpeg-bytes"), Format: capture.FormatJPEG, Size: 10, Width: 800, Height: 600, Cached: true,
	}}
	h := NewServer(svc, Options{})
	w := serve(h, postJSON(`{"url":"https://example.com","format":"jpeg","width":800,"height":600,"quality":70,"fullPage":false,"delay":250}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("Content-Type = %q", got)
	}
	for header, want := range map[string]string{
		"X-Screenshot-Cached": "true",
		"X-Screenshot-Size":   "10",
		"X-Screenshot-Width":  "800",
		"X-Screenshot-Height": "600",
	} {
		if got := w.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Body.String() != "jpeg-bytes" {
		t.Fatalf("body = %q", w.Body.String())
	}
	got := svc.lastRequest()
	if got.Quality != 70 || got.DelayMS != 250 || got.Format != capture.FormatJPEG {
		t.Fatalf("request = %+v", got)
	}
}

func TestPostScreenshotValidation(t *testing.T) {
	cases := map[string]string{
		`{}`:                  "URL is required",
		`{"url":"not-a-url"}`: "Invalid URL format",
		`{"url":"https://example.com","format":"gif"}`: "format must be one of",
	}
	for body, want := range cases {
		h := NewServer(&stubService{}, Options{})
		w := serve(h, postJSON(body))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", body, w.Code)
		}
		if !strings.Contains(w.Body.String(), want) {
			t.Fatalf("%s: body %q missing %q", body, w.Body.String(), want)
		}
	}
}

func TestCaptureFailureMapsTo500(t *testing.T) {
	svc := &stubService{err: &capture.CodedError{Code: capture.CodeNavigation, Message: "navigation timeout of 5000ms exceeded"}}
	h := NewServer(svc, Options{})
	w := serve(h, postJSON(`{"url":"https://example.com"}`))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "navigation timeout of 5000ms exceeded") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGetScreenshotCoercesQuery(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, Options{})
	target := "/screenshot?url=https%3A%2F%2Fexample.com&width=800&height=600&quality=55&fullPage=true&delay=100&timeout=9000&deviceScaleFactor=1.5&format=webp"
	w := serve(h, httptest.NewRequest(http.MethodGet, target, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	want := capture.Request{
		URL: "https://example.com", Width: 800, Height: 600, Format: capture.FormatWebP, Quality: 55,
		FullPage: true, DelayMS: 100, TimeoutMS: 9000, DeviceScaleFactor: 1.5,
	}
	if got := svc.lastRequest(); got != want {
		t.Fatalf("request = %+v, want %+v", got, want)
	}
	if got := w.Header().Get("X-Screenshot-Cached"); got != "false" {
		t.Fatalf("X-Screenshot-Cached = %q", got)
	}
}

func TestGetScreenshotRejectsBadQuery(t *testing.T) {
	h := NewServer(&stubService{}, Options{})

	w := serve(h, httptest.NewRequest(http.MethodGet, "/screenshot", nil))
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "URL parameter is required") {
		t.Fatalf("missing url: status = %d body=%s", w.Code, w.Body.String())
	}

	w = serve(h, httptest.NewRequest(http.MethodGet, "/screenshot?url=https%3A%2F%2Fexample.com&width=wide", nil))
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "width must be an integer") {
		t.Fatalf("bad width: status = %d body=%s", w.Code, w.Body.String())
	}

	for _, dpr := range []string{"NaN", "Inf", "-Inf"} {
		w = serve(h, httptest.NewRequest(http.MethodGet, "/screenshot?url=https%3A%2F%2Fexample.com&deviceScaleFactor="+dpr, nil))
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "deviceScaleFactor must be a finite number") {
			t.Fatalf("dpr %s: status = %d body=%s", dpr, w.Code, w.Body.String())
		}
	}
}

func TestPostScreenshotIgnoresUnknownFields(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, Options{})
	w := serve(h, postJSON(`{"url":"https://example.com","width":640,"extra":1,"waitUntil":"load"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if got := svc.lastRequest(); got.URL != "https://example.com" || got.Width != 640 {
		t.Fatalf("request = %+v", got)
	}
}

func TestClearCache(t *testing.T) {
	svc := &stubService{available: true}
	h := NewServer(svc, Options{})
	w := serve(h, httptest.NewRequest(http.MethodDelete, "/cache", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Cache cleared successfully") {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if svc.cleared != 1 {
		t.Fatalf("cleared = %d, want 1", svc.cleared)
	}

	svc.available = false
	w = serve(h, httptest.NewRequest(http.MethodDelete, "/cache", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "Cache service not available") {
		t.Fatalf("unavailable: status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewServer(&stubService{}, Options{})
	w := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("status = %d", w.Code)
	}
}
