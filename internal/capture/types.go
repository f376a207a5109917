package capture

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

const (
	CodeValidation         = "VALIDATION"
	CodeNavigation         = "NAVIGATION"
	CodeCapture            = "CAPTURE"
	CodeEncode             = "ENCODE"
	CodeBrowserUnavailable = "BROWSER_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Format is an output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// ContentType returns the HTTP media type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

const (
	DefaultWidth             = 1920
	DefaultHeight            = 1080
	DefaultTimeoutMS         = 30000
	DefaultDeviceScaleFactor = 2.0

	// minFullPageHeight keeps full-page viewports from collapsing before content loads.
	minFullPageHeight = 1080
)

// Request describes one screenshot. Zero Width, Height and Quality mean "not requested".
type Request struct {
	URL               string  `json:"url"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	Format            Format  `json:"format,omitempty"`
	Quality           int     `json:"quality,omitempty"`
	FullPage          bool    `json:"fullPage,omitempty"`
	Selector          string  `json:"selector,omitempty"`
	DelayMS           int     `json:"delay,omitempty"`
	TimeoutMS         int     `json:"timeout,omitempty"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor,omitempty"`
}

// Result is a successfully produced image.
type Result struct {
	Data   []byte `json:"-"`
	Format Format `json:"format"`
	Size   int    `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Cached bool   `json:"cached"`
}

// ValidateURL reports whether raw is an absolute URL a browser can load.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return newError(CodeValidation, "URL is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return newError(CodeValidation, "Invalid URL format", err)
	}
	return nil
}

// Normalize validates r and fills defaults, returning the canonical form
// used both for rendering and for cache fingerprints.
func (r Request) Normalize() (Request, error) {
	if err := ValidateURL(r.URL); err != nil {
		return Request{}, err
	}
	n := r
	n.URL = strings.TrimSpace(r.URL)
	n.Selector = strings.TrimSpace(r.Selector)

	switch f := Format(strings.ToLower(strings.TrimSpace(string(r.Format)))); f {
	case "":
		n.Format = FormatPNG
	case FormatPNG, FormatJPEG, FormatWebP:
		n.Format = f
	case "jpg":
		n.Format = FormatJPEG
	default:
		return Request{}, newError(CodeValidation, fmt.Sprintf("format must be one of png, jpeg, webp (got %q)", r.Format), nil)
	}

	if n.Width < 0 || n.Height < 0 {
		return Request{}, newError(CodeValidation, "width and height must be positive integers", nil)
	}
	if n.Quality != 0 {
		n.Quality = clampQuality(n.Quality)
	}
	if n.DelayMS < 0 {
		n.DelayMS = 0
	}
	if n.TimeoutMS <= 0 {
		n.TimeoutMS = DefaultTimeoutMS
	}
	if math.IsNaN(n.DeviceScaleFactor) || math.IsInf(n.DeviceScaleFactor, 0) {
		return Request{}, newError(CodeValidation, "deviceScaleFactor must be a finite number", nil)
	}
	if n.DeviceScaleFactor <= 0 {
		n.DeviceScaleFactor = DefaultDeviceScaleFactor
	}
	return n, nil
}

// ViewportSize returns the browser viewport for the request.
func (r Request) ViewportSize() (int, int) {
	w, h := r.Width, r.Height
	if w == 0 {
		w = DefaultWidth
	}
	if h == 0 {
		h = DefaultHeight
	}
	if r.FullPage && h < minFullPageHeight {
		h = minFullPageHeight
	}
	return w, h
}

// CacheOptions returns the option set that identifies the rendered output.
// Call it on a normalized request.
func (r Request) CacheOptions() map[string]any {
	return map[string]any{
		"width":             r.Width,
		"height":            r.Height,
		"format":            string(r.Format),
		"quality":           r.Quality,
		"fullPage":          r.FullPage,
		"selector":          r.Selector,
		"delay":             r.DelayMS,
		"timeout":           r.TimeoutMS,
		"deviceScaleFactor": r.DeviceScaleFactor,
	}
}

func clampQuality(q int) int {
	return max(1, min(100, q))
}
