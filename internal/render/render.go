// Package render drives a headless browser for page captures.
package render

import (
	"context"
	"errors"
	"time"
)

// WaitCondition selects the signal that ends a navigation.
type WaitCondition int

const (
	// WaitLoad returns once the load event fired.
	WaitLoad WaitCondition = iota
	// WaitNetworkIdle additionally waits for NetworkIdleWindow without requests in flight.
	WaitNetworkIdle
)

// NetworkIdleWindow is how long the page must stay without in-flight requests.
const NetworkIdleWindow = 500 * time.Millisecond

// ScrollPosition is a vertical scroll target.
type ScrollPosition int

const (
	ScrollTop ScrollPosition = iota
	ScrollBottom
)

// ImageFormat is the encoding the browser uses for raw captures.
type ImageFormat string

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

// ErrSelectorNotFound is returned when no element matches a capture selector.
var ErrSelectorNotFound = errors.New("no element matches selector")

// ScreenshotOptions controls a single capture.
type ScreenshotOptions struct {
	// Selector limits the capture to the first matching element's box.
	Selector string
	// FullPage captures the whole scrollable document.
	FullPage bool
	Format   ImageFormat
	// Quality applies to ImageJPEG only.
	Quality int
}

// Browser is a shared browser session handing out independent pages. Pages
// must not share cookies, storage or cache with each other.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is one tab owned by a single request. Close must always be called.
type Page interface {
	SetViewport(ctx context.Context, width, height int) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	OverrideDevicePixelRatio(ctx context.Context, ratio float64) error
	FreezeAnimations(ctx context.Context) error
	Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error
	WaitForNetworkIdle(ctx context.Context) error
	WaitForFonts(ctx context.Context) error
	ScrollTo(ctx context.Context, pos ScrollPosition) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Close() error
}
