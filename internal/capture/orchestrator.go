package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/pagesnap/internal/render"
)

// DefaultUserAgent is sent with every navigation so sites serve desktop markup.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// StepAction is what a stabilization step does before its wait.
type StepAction int

const (
	StepWait StepAction = iota
	StepScrollBottom
	StepScrollTop
)

// StabilizeStep performs Action, then pauses for Wait.
type StabilizeStep struct {
	Action StepAction
	Wait   time.Duration
}

// DefaultPreScroll nudges lazy-loaded content and scroll-triggered animations
// before a full-page capture. It is a timing heuristic, not a guarantee.
var DefaultPreScroll = []StabilizeStep{
	{Action: StepWait, Wait: 1000 * time.Millisecond},
	{Action: StepScrollBottom, Wait: 500 * time.Millisecond},
	{Action: StepScrollTop, Wait: 500 * time.Millisecond},
}

// Orchestrator renders one request on its own page of a shared browser.
type Orchestrator struct {
	browser   render.Browser
	userAgent string
	preScroll []StabilizeStep
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithUserAgent(ua string) OrchestratorOption {
	return func(o *Orchestrator) { o.userAgent = ua }
}

// WithPreScroll replaces the full-page stabilization sequence.
func WithPreScroll(steps []StabilizeStep) OrchestratorOption {
	return func(o *Orchestrator) { o.preScroll = steps }
}

func NewOrchestrator(browser render.Browser, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		browser:   browser,
		userAgent: DefaultUserAgent,
		preScroll: DefaultPreScroll,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Render captures raw image bytes for a normalized request. The page is
// closed on every return path.
func (o *Orchestrator) Render(ctx context.Context, req Request) ([]byte, error) {
	page, err := o.browser.NewPage(ctx)
	if err != nil {
		return nil, newError(CodeBrowserUnavailable, "failed to open browser page", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			slog.Warn("page close failed", "url", req.URL, "error", cerr)
		}
	}()

	if err := o.configure(ctx, page, req); err != nil {
		return nil, newError(CodeCapture, "failed to configure page", err)
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if err := page.Navigate(ctx, req.URL, render.WaitNetworkIdle, timeout); err != nil {
		return nil, newError(CodeNavigation, err.Error(), err)
	}

	if err := o.stabilize(ctx, page, req, timeout); err != nil {
		return nil, newError(CodeNavigation, "page did not settle: "+err.Error(), err)
	}

	if req.FullPage {
		if err := o.runSteps(ctx, page, o.preScroll); err != nil {
			return nil, newError(CodeCapture, "pre-scroll failed", err)
		}
	}

	data, err := page.Screenshot(ctx, screenshotOptions(req))
	if err != nil {
		if errors.Is(err, render.ErrSelectorNotFound) {
			return nil, newError(CodeCapture, fmt.Sprintf("element not found for selector %q", req.Selector), err)
		}
		return nil, newError(CodeCapture, "screenshot failed", err)
	}
	slog.Debug("page captured", "url", req.URL, "bytes", len(data))
	return data, nil
}

func (o *Orchestrator) configure(ctx context.Context, page render.Page, req Request) error {
	w, h := req.ViewportSize()
	if err := page.SetViewport(ctx, w, h); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}
	if err := page.OverrideDevicePixelRatio(ctx, req.DeviceScaleFactor); err != nil {
		return fmt.Errorf("device pixel ratio: %w", err)
	}
	if err := page.SetExtraHeaders(ctx, map[string]string{"User-Agent": o.userAgent}); err != nil {
		return fmt.Errorf("headers: %w", err)
	}
	if err := page.FreezeAnimations(ctx); err != nil {
		return fmt.Errorf("animations: %w", err)
	}
	return nil
}

func (o *Orchestrator) stabilize(ctx context.Context, page render.Page, req Request, timeout time.Duration) error {
	idleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.WaitForNetworkIdle(idleCtx); err != nil {
		return fmt.Errorf("network idle: %w", err)
	}
	if err := page.WaitForFonts(idleCtx); err != nil {
		return fmt.Errorf("fonts: %w", err)
	}
	return sleep(ctx, time.Duration(req.DelayMS)*time.Millisecond)
}

func (o *Orchestrator) runSteps(ctx context.Context, page render.Page, steps []StabilizeStep) error {
	for _, step := range steps {
		switch step.Action {
		case StepScrollBottom:
			if err := page.ScrollTo(ctx, render.ScrollBottom); err != nil {
				return err
			}
		case StepScrollTop:
			if err := page.ScrollTo(ctx, render.ScrollTop); err != nil {
				return err
			}
		}
		if err := sleep(ctx, step.Wait); err != nil {
			return err
		}
	}
	return nil
}

// screenshotOptions picks the browser-side encoding. WebP output is
// produced from a lossless PNG capture.
func screenshotOptions(req Request) render.ScreenshotOptions {
	opts := render.ScreenshotOptions{
		Selector: req.Selector,
		FullPage: req.FullPage,
		Format:   render.ImagePNG,
	}
	if req.Format == FormatJPEG {
		opts.Format = render.ImageJPEG
		opts.Quality = renderQuality(req)
	}
	return opts
}

func renderQuality(req Request) int {
	switch {
	case req.FullPage:
		return 100
	case req.Quality != 0:
		return clampQuality(req.Quality)
	default:
		return 90
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
