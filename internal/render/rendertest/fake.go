// Package rendertest provides an in-memory render.Browser for tests.
package rendertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/pagesnap/internal/render"
)

// Browser hands out Pages that render a solid PNG sized to the viewport.
type Browser struct {
	// NewPageErr fails NewPage when set.
	NewPageErr error
	// Configure is applied to every page before it is returned.
	Configure func(*Page)

	mu    sync.Mutex
	pages []*Page
	opens atomic.Int32
}

func (b *Browser) NewPage(ctx context.Context) (render.Page, error) {
	b.opens.Add(1)
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	p := &Page{}
	if b.Configure != nil {
		b.Configure(p)
	}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

// Opens counts NewPage calls, including failed ones.
func (b *Browser) Opens() int { return int(b.opens.Load()) }

func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Page records calls and returns scripted results.
type Page struct {
	NavigateErr   error
	IdleErr       error
	FontsErr      error
	ScreenshotErr error
	// NavigateDelay blocks Navigate, honouring ctx cancellation.
	NavigateDelay time.Duration
	// DocumentHeight is the full-page capture height. Defaults to the viewport height.
	DocumentHeight int
	// Image overrides the generated screenshot bytes.
	Image []byte

	mu             sync.Mutex
	calls          []string
	width, height  int
	dpr            float64
	headers        map[string]string
	lastScreenshot render.ScreenshotOptions
	closed         bool
}

func (p *Page) record(format string, args ...any) {
	p.mu.Lock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
	p.mu.Unlock()
}

func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Viewport() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

func (p *Page) DevicePixelRatio() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dpr
}

func (p *Page) Headers() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headers
}

func (p *Page) LastScreenshot() render.ScreenshotOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastScreenshot
}

func (p *Page) SetViewport(_ context.Context, width, height int) error {
	p.record("viewport %dx%d", width, height)
	p.mu.Lock()
	p.width, p.height = width, height
	p.mu.Unlock()
	return nil
}

func (p *Page) SetExtraHeaders(_ context.Context, headers map[string]string) error {
	p.record("headers")
	p.mu.Lock()
	p.headers = headers
	p.mu.Unlock()
	return nil
}

func (p *Page) OverrideDevicePixelRatio(_ context.Context, ratio float64) error {
	p.record("dpr %g", ratio)
	p.mu.Lock()
	p.dpr = ratio
	p.mu.Unlock()
	return nil
}

func (p *Page) FreezeAnimations(context.Context) error {
	p.record("freeze")
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string, wait render.WaitCondition, timeout time.Duration) error {
	p.record("navigate %s", url)
	if p.NavigateDelay > 0 {
		navCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		select {
		case <-time.After(p.NavigateDelay):
		case <-navCtx.Done():
			return fmt.Errorf("navigation timeout of %dms exceeded", timeout.Milliseconds())
		}
	}
	return p.NavigateErr
}

func (p *Page) WaitForNetworkIdle(context.Context) error {
	p.record("idle")
	return p.IdleErr
}

func (p *Page) WaitForFonts(context.Context) error {
	p.record("fonts")
	return p.FontsErr
}

func (p *Page) ScrollTo(_ context.Context, pos render.ScrollPosition) error {
	if pos == render.ScrollBottom {
		p.record("scroll bottom")
	} else {
		p.record("scroll top")
	}
	return nil
}

func (p *Page) Screenshot(_ context.Context, opts render.ScreenshotOptions) ([]byte, error) {
	p.record("screenshot")
	p.mu.Lock()
	p.lastScreenshot = opts
	w, h := p.width, p.height
	p.mu.Unlock()

	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	if p.Image != nil {
		return p.Image, nil
	}
	if opts.FullPage && p.DocumentHeight > 0 {
		h = p.DocumentHeight
	}
	return SolidPNG(w, h), nil
}

func (p *Page) Close() error {
	p.record("close")
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// SolidPNG encodes a w x h opaque PNG.
func SolidPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{R: 32, G: 96, B: 160, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
