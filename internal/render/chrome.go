package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const freezeAnimationsJS = `(() => {
  const apply = () => {
    const style = document.createElement('style');
    style.setAttribute('data-pagesnap', 'freeze');
    style.textContent = '*, *::before, *::after { animation-duration: 0s !important; animation-delay: 0s !important; animation-iteration-count: 1 !important; transition-duration: 0s !important; transition-delay: 0s !important; caret-color: transparent !important; }';
    (document.head || document.documentElement).appendChild(style);
  };
  if (document.readyState === 'loading') {
    document.addEventListener('DOMContentLoaded', apply, { once: true });
  } else {
    apply();
  }
})();`

const documentSizeJS = `(() => {
  const d = document.documentElement, b = document.body || d;
  return {
    width: Math.max(d.scrollWidth, b.scrollWidth, d.clientWidth),
    height: Math.max(d.scrollHeight, b.scrollHeight, d.clientHeight)
  };
})()`

// ChromeBrowser is a shared chromedp browser session. Each NewPage opens a
// separate tab in its own browser context within the same browser process.
type ChromeBrowser struct {
	cdpURL        string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// Connect attaches to the browser behind cdpURL (http:// DevTools endpoint or ws:// debugger URL).
func Connect(ctx context.Context, cdpURL string) (*ChromeBrowser, error) {
	slog.Info("connecting to browser", "cdp_url", cdpURL)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &ChromeBrowser{
		cdpURL:        cdpURL,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
	if err := attach(ctx, browserCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	slog.Info("browser session ready", "cdp_url", cdpURL)
	return b, nil
}

// tabContextOptions places every tab in a new browser context so cookies,
// storage and HTTP cache never carry over between pages. chromedp disposes
// the browser context when the tab is closed.
func tabContextOptions() []chromedp.ContextOption {
	return []chromedp.ContextOption{chromedp.WithNewBrowserContext()}
}

// NewPage opens a fresh tab. The caller owns the page and must Close it.
func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx, tabContextOptions()...)
	p := &chromePage{
		ctx:      tabCtx,
		cancel:   tabCancel,
		inflight: make(map[network.RequestID]struct{}),
		lastNet:  time.Now(),
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	if err := attach(ctx, tabCtx, network.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

// Close disconnects from the browser. A launched browser process is stopped by its Launcher.
func (b *ChromeBrowser) Close() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	slog.Info("browser session closed", "cdp_url", b.cdpURL)
}

// attach performs the first Run on a chromedp context. chromedp binds the
// browser connection and the tab to the context of that first Run, so it
// must be target itself; ctx only bounds how long the caller waits.
func attach(ctx, target context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(target, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLinked executes actions on a chromedp context while honouring the
// cancellation and deadline of the caller's ctx. Cancelling the derived
// context does not close the tab.
func runLinked(ctx, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	lastNet  time.Time
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	return runLinked(ctx, p.ctx, actions...)
}

func (p *chromePage) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.mu.Lock()
		p.inflight[e.RequestID] = struct{}{}
		p.lastNet = time.Now()
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.settle(e.RequestID)
	case *network.EventLoadingFailed:
		p.settle(e.RequestID)
	}
}

func (p *chromePage) settle(id network.RequestID) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.lastNet = time.Now()
	p.mu.Unlock()
}

func (p *chromePage) networkQuiet(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight) == 0 && now.Sub(p.lastNet) >= NetworkIdleWindow
}

func (p *chromePage) SetViewport(ctx context.Context, width, height int) error {
	return p.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (p *chromePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return p.run(ctx, network.SetExtraHTTPHeaders(h))
}

func (p *chromePage) OverrideDevicePixelRatio(ctx context.Context, ratio float64) error {
	script := fmt.Sprintf(`Object.defineProperty(window, 'devicePixelRatio', { get: () => %g });`, ratio)
	return p.addInitScript(ctx, script)
}

func (p *chromePage) FreezeAnimations(ctx context.Context) error {
	return p.addInitScript(ctx, freezeAnimationsJS)
}

func (p *chromePage) addInitScript(ctx context.Context, script string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

func (p *chromePage) Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.run(navCtx, chromedp.Navigate(url))
	if err == nil && wait == WaitNetworkIdle {
		err = p.WaitForNetworkIdle(navCtx)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("navigation timeout of %dms exceeded", timeout.Milliseconds())
	}
	return err
}

func (p *chromePage) WaitForNetworkIdle(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.networkQuiet(time.Now()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *chromePage) WaitForFonts(ctx context.Context) error {
	var ready bool
	return p.run(ctx, chromedp.Evaluate(`document.fonts.ready.then(() => true)`, &ready, awaitPromise))
}

func (p *chromePage) ScrollTo(ctx context.Context, pos ScrollPosition) error {
	expr := `window.scrollTo(0, 0)`
	if pos == ScrollBottom {
		expr = `window.scrollTo(0, document.body ? document.body.scrollHeight : document.documentElement.scrollHeight)`
	}
	return p.run(ctx, chromedp.Evaluate(expr, nil))
}

type clipRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (p *chromePage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithFromSurface(true)
		if opts.Format == ImageJPEG {
			params = params.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(opts.Quality))
		} else {
			params = params.WithFormat(page.CaptureScreenshotFormatPng)
		}

		switch {
		case opts.Selector != "":
			rect, err := elementRect(ctx, opts.Selector)
			if err != nil {
				return err
			}
			params = params.WithCaptureBeyondViewport(true).WithClip(rect)
		case opts.FullPage:
			var size clipRect
			if err := chromedp.Evaluate(documentSizeJS, &size).Do(ctx); err != nil {
				return fmt.Errorf("measure document: %w", err)
			}
			params = params.WithCaptureBeyondViewport(true).WithClip(&page.Viewport{
				Width:  math.Ceil(size.Width),
				Height: math.Ceil(size.Height),
				Scale:  1,
			})
		}

		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// elementRect scrolls the first element matching selector into view and
// returns its box in document coordinates.
func elementRect(ctx context.Context, selector string) (*page.Viewport, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return null;
  el.scrollIntoView({ block: 'center', inline: 'center' });
  const r = el.getBoundingClientRect();
  return { x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height };
})()`, quoted)

	var rect *clipRect
	if err := chromedp.Evaluate(expr, &rect).Do(ctx); err != nil {
		return nil, fmt.Errorf("locate %q: %w", selector, err)
	}
	if rect == nil {
		return nil, fmt.Errorf("%w: %q", ErrSelectorNotFound, selector)
	}
	if rect.Width < 1 || rect.Height < 1 {
		return nil, fmt.Errorf("element %q has no visible size", selector)
	}

	// Fractional clips are captured inconsistently; align like chromedp.ScreenshotNodes.
	x, y := math.Round(rect.X), math.Round(rect.Y)
	return &page.Viewport{
		X:      x,
		Y:      y,
		Width:  math.Round(rect.Width + rect.X - x),
		Height: math.Round(rect.Height + rect.Y - y),
		Scale:  1,
	}, nil
}

func (p *chromePage) Close() error {
	closeCtx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	err := chromedp.Cancel(closeCtx)
	p.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}
