package capture

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/pagesnap/internal/render"
	"github.com/dgnsrekt/pagesnap/internal/render/rendertest"
)

var zeroWaitPreScroll = []StabilizeStep{
	{Action: StepWait},
	{Action: StepScrollBottom},
	{Action: StepScrollTop},
}

func normalized(t *testing.T, req Request) Request {
	t.Helper()
	n, err := req.Normalize()
	if err != nil {
		t.Fatalf("Normalize() = %v", err)
	}
	return n
}

func onlyPage(t *testing.T, b *rendertest.Browser) *rendertest.Page {
	t.Helper()
	pages := b.Pages()
	if len(pages) != 1 {
		t.Fatalf("opened %d pages; want 1", len(pages))
	}
	return pages[0]
}

func requireCode(t *testing.T, err error, code string) *CodedError {
	t.Helper()
	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("error = %v; want *CodedError", err)
	}
	if coded.Code != code {
		t.Fatalf("error code = %q; want %q (%v)", coded.Code, code, err)
	}
	return coded
}

func TestRenderProtocolOrder(t *testing.T) {
	b := &rendertest.Browser{}
	o := NewOrchestrator(b, WithPreScroll(zeroWaitPreScroll))

	data, err := o.Render(context.Background(), normalized(t, Request{URL: "https://example.com", Width: 1024, Height: 768}))
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("Render() returned no bytes")
	}

	p := onlyPage(t, b)
	want := []string{
		"viewport 1024x768",
		"dpr 2",
		"headers",
		"freeze",
		"navigate https://example.com",
		"idle",
		"fonts",
		"screenshot",
		"close",
	}
	if got := p.Calls(); !slices.Equal(got, want) {
		t.Fatalf("calls = %v; want %v", got, want)
	}
	if ua := p.Headers()["User-Agent"]; !strings.Contains(ua, "Chrome/120") {
		t.Fatalf("User-Agent = %q", ua)
	}
	if got := p.LastScreenshot(); got.Format != render.ImagePNG || got.FullPage || got.Selector != "" {
		t.Fatalf("screenshot options = %+v", got)
	}
}

func TestRenderFullPagePreScroll(t *testing.T) {
	b := &rendertest.Browser{}
	o := NewOrchestrator(b, WithPreScroll(zeroWaitPreScroll))

	_, err := o.Render(context.Background(), normalized(t, Request{URL: "https://example.com", Width: 800, Height: 600, FullPage: true}))
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}

	p := onlyPage(t, b)
	if w, h := p.Viewport(); w != 800 || h != 1080 {
		t.Fatalf("viewport = %dx%d; want 800x1080", w, h)
	}
	calls := p.Calls()
	i := slices.Index(calls, "fonts")
	want := []string{"fonts", "scroll bottom", "scroll top", "screenshot", "close"}
	if i < 0 || !slices.Equal(calls[i:], want) {
		t.Fatalf("calls = %v; want suffix %v", calls, want)
	}
	if !p.LastScreenshot().FullPage {
		t.Fatalf("screenshot not full page")
	}
}

func TestRenderJPEGQuality(t *testing.T) {
	tests := []struct {
		req  Request
		want int
	}{
		{Request{URL: "https://example.com", Format: FormatJPEG}, 90},
		{Request{URL: "https://example.com", Format: FormatJPEG, Quality: 70}, 70},
		{Request{URL: "https://example.com", Format: FormatJPEG, Quality: 70, FullPage: true}, 100},
	}
	for _, tt := range tests {
		b := &rendertest.Browser{}
		o := NewOrchestrator(b, WithPreScroll(zeroWaitPreScroll))
		if _, err := o.Render(context.Background(), normalized(t, tt.req)); err != nil {
			t.Fatalf("Render() = %v", err)
		}
		got := onlyPage(t, b).LastScreenshot()
		if got.Format != render.ImageJPEG || got.Quality != tt.want {
			t.Fatalf("Render(%+v) screenshot = %+v; want jpeg q%d", tt.req, got, tt.want)
		}
	}
}

func TestRenderWebPCapturesPNG(t *testing.T) {
	b := &rendertest.Browser{}
	o := NewOrchestrator(b)
	if _, err := o.Render(context.Background(), normalized(t, Request{URL: "https://example.com", Format: FormatWebP, Quality: 50})); err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if got := onlyPage(t, b).LastScreenshot(); got.Format != render.ImagePNG || got.Quality != 0 {
		t.Fatalf("screenshot = %+v; want png without quality", got)
	}
}

func TestRenderFailuresCloseThePage(t *testing.T) {
	tests := []struct {
		name     string
		page     func(*rendertest.Page)
		req      Request
		wantCode string
		wantMsg  string
	}{
		{
			name:     "navigation",
			page:     func(p *rendertest.Page) { p.NavigateErr = fmt.Errorf("page load error net::ERR_NAME_NOT_RESOLVED") },
			wantCode: CodeNavigation,
			wantMsg:  "page load error net::ERR_NAME_NOT_RESOLVED",
		},
		{
			name:     "timeout",
			page:     func(p *rendertest.Page) { p.NavigateDelay = time.Second },
			req:      Request{TimeoutMS: 20},
			wantCode: CodeNavigation,
			wantMsg:  "navigation timeout of 20ms exceeded",
		},
		{
			name:     "network idle",
			page:     func(p *rendertest.Page) { p.IdleErr = context.DeadlineExceeded },
			wantCode: CodeNavigation,
		},
		{
			name: "selector",
			page: func(p *rendertest.Page) {
				p.ScreenshotErr = fmt.Errorf("%w: %q", render.ErrSelectorNotFound, "#missing")
			},
			req:      Request{Selector: "#missing"},
			wantCode: CodeCapture,
			wantMsg:  `element not found for selector "#missing"`,
		},
		{
			name:     "engine",
			page:     func(p *rendertest.Page) { p.ScreenshotErr = errors.New("target crashed") },
			wantCode: CodeCapture,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &rendertest.Browser{Configure: tt.page}
			o := NewOrchestrator(b, WithPreScroll(zeroWaitPreScroll))
			req := tt.req
			req.URL = "https://example.com"

			data, err := o.Render(context.Background(), normalized(t, req))
			if data != nil {
				t.Fatalf("Render() returned bytes on failure")
			}
			coded := requireCode(t, err, tt.wantCode)
			if tt.wantMsg != "" && coded.Message != tt.wantMsg {
				t.Fatalf("message = %q; want %q", coded.Message, tt.wantMsg)
			}
			if !onlyPage(t, b).Closed() {
				t.Fatalf("page left open after %s failure", tt.name)
			}
		})
	}
}

func TestRenderBrowserUnavailable(t *testing.T) {
	b := &rendertest.Browser{NewPageErr: errors.New("websocket closed")}
	_, err := NewOrchestrator(b).Render(context.Background(), normalized(t, Request{URL: "https://example.com"}))
	requireCode(t, err, CodeBrowserUnavailable)
}

func TestRenderDelayHonoursCancellation(t *testing.T) {
	b := &rendertest.Browser{}
	o := NewOrchestrator(b)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := o.Render(ctx, normalized(t, Request{URL: "https://example.com", DelayMS: 5000}))
	if err == nil {
		t.Fatalf("Render() = nil; want cancellation error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("Render() ignored cancellation")
	}
	if !onlyPage(t, b).Closed() {
		t.Fatalf("page left open after cancellation")
	}
}

func TestDefaultPreScrollSequence(t *testing.T) {
	want := []StabilizeStep{
		{Action: StepWait, Wait: time.Second},
		{Action: StepScrollBottom, Wait: 500 * time.Millisecond},
		{Action: StepScrollTop, Wait: 500 * time.Millisecond},
	}
	if !slices.Equal(DefaultPreScroll, want) {
		t.Fatalf("DefaultPreScroll = %v; want %v", DefaultPreScroll, want)
	}
}
