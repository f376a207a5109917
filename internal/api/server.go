package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/pagesnap/internal/capture"
	"github.com/dgnsrekt/pagesnap/internal/controller"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the capture coordinator exposed over HTTP.
type Service interface {
	Capture(ctx context.Context, req capture.Request) (*capture.Result, error)
	ClearCache(ctx context.Context) controller.ClearResult
	CacheAvailable() bool
}

// Options configures the HTTP middleware stack.
type Options struct {
	CORS bool
	// RateLimitMax requests per RateLimitWindow per client IP. Zero disables limiting.
	RateLimitMax    int
	RateLimitWindow time.Duration
	// TrustProxy keys clients on X-Forwarded-For / X-Real-IP instead of the socket peer.
	TrustProxy bool
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(opts.TrustProxy))
	router.Use(middleware.Recoverer)
	if opts.CORS {
		router.Use(cors)
	}
	if opts.RateLimitMax > 0 {
		router.Use(newRateLimiter(opts.RateLimitMax, opts.RateLimitWindow, opts.TrustProxy).middleware)
	}

	cfg := huma.DefaultConfig("Pagesnap Screenshot API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Handle("/metrics", promhttp.Handler())

	registerHealthHandlers(api, svc)
	registerScreenshotHandlers(api, svc)
	registerCacheHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status    string    `json:"status" example:"ok"`
			Timestamp time.Time `json:"timestamp"`
			Cache     string    `json:"cache" enum:"available,unavailable"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Timestamp = time.Now().UTC()
			out.Body.Cache = "unavailable"
			if svc.CacheAvailable() {
				out.Body.Cache = "available"
			}
			return out, nil
		})
}

// screenshotBody mirrors capture.Request with every field optional so
// missing or malformed URLs surface as 400s from capture validation.
// Unknown fields are ignored.
type screenshotBody struct {
	_ struct{} `json:"-" additionalProperties:"true"`

	URL               string  `json:"url,omitempty" doc:"Absolute URL to capture" example:"https://example.com"`
	Width             int     `json:"width,omitempty" doc:"Output width in pixels (viewport default 1920)"`
	Height            int     `json:"height,omitempty" doc:"Output height in pixels (viewport default 1080)"`
	Format            string  `json:"format,omitempty" doc:"png, jpeg or webp" example:"png"`
	Quality           int     `json:"quality,omitempty" doc:"Lossy quality 1-100"`
	FullPage          bool    `json:"fullPage,omitempty" doc:"Capture the whole scrollable page"`
	Selector          string  `json:"selector,omitempty" doc:"CSS selector of a single element to capture"`
	Delay             int     `json:"delay,omitempty" doc:"Extra settle time in milliseconds"`
	Timeout           int     `json:"timeout,omitempty" doc:"Navigation timeout in milliseconds (default 30000)"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor,omitempty" doc:"Device pixel ratio (default 2)"`
}

func (b screenshotBody) request() capture.Request {
	return capture.Request{
		URL:               b.URL,
		Width:             b.Width,
		Height:            b.Height,
		Format:            capture.Format(b.Format),
		Quality:           b.Quality,
		FullPage:          b.FullPage,
		Selector:          b.Selector,
		DelayMS:           b.Delay,
		TimeoutMS:         b.Timeout,
		DeviceScaleFactor: b.DeviceScaleFactor,
	}
}

// screenshotQuery takes raw strings so numeric coercion errors read like
// every other validation failure.
type screenshotQuery struct {
	URL               string `query:"url" doc:"Absolute URL to capture"`
	Width             string `query:"width"`
	Height            string `query:"height"`
	Format            string `query:"format"`
	Quality           string `query:"quality"`
	FullPage          string `query:"fullPage" doc:"true to capture the whole page"`
	Selector          string `query:"selector"`
	Delay             string `query:"delay"`
	Timeout           string `query:"timeout"`
	DeviceScaleFactor string `query:"deviceScaleFactor"`
}

func (q screenshotQuery) request() (capture.Request, error) {
	req := capture.Request{
		URL:      q.URL,
		Format:   capture.Format(q.Format),
		Selector: q.Selector,
	}
	req.FullPage, _ = strconv.ParseBool(q.FullPage)

	ints := []struct {
		name string
		raw  string
		dst  *int
	}{
		{"width", q.Width, &req.Width},
		{"height", q.Height, &req.Height},
		{"quality", q.Quality, &req.Quality},
		{"delay", q.Delay, &req.DelayMS},
		{"timeout", q.Timeout, &req.TimeoutMS},
	}
	for _, f := range ints {
		if f.raw == "" {
			continue
		}
		n, err := strconv.Atoi(f.raw)
		if err != nil {
			return capture.Request{}, huma.Error400BadRequest(f.name + " must be an integer")
		}
		*f.dst = n
	}
	if q.DeviceScaleFactor != "" {
		dpr, err := strconv.ParseFloat(q.DeviceScaleFactor, 64)
		if err != nil {
			return capture.Request{}, huma.Error400BadRequest("deviceScaleFactor must be a number")
		}
		req.DeviceScaleFactor = dpr
	}
	return req, nil
}

type imageOutput struct {
	ContentType string `header:"Content-Type"`
	Cached      string `header:"X-Screenshot-Cached"`
	Size        string `header:"X-Screenshot-Size"`
	Width       string `header:"X-Screenshot-Width"`
	Height      string `header:"X-Screenshot-Height"`
	Body        []byte
}

func newImageOutput(res *capture.Result) *imageOutput {
	return &imageOutput{
		ContentType: res.Format.ContentType(),
		Cached:      strconv.FormatBool(res.Cached),
		Size:        strconv.Itoa(res.Size),
		Width:       strconv.Itoa(res.Width),
		Height:      strconv.Itoa(res.Height),
		Body:        res.Data,
	}
}

var imageResponses = map[string]*huma.Response{
	"200": {
		Description: "Captured image",
		Content: map[string]*huma.MediaType{
			"image/png":  {Schema: &huma.Schema{Type: "string", Format: "binary"}},
			"image/jpeg": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
			"image/webp": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
		},
	},
}

func registerScreenshotHandlers(api huma.API, svc Service) {
	type postInput struct {
		Body screenshotBody
	}
	huma.Register(api, huma.Operation{
		OperationID: "post-screenshot",
		Method:      http.MethodPost,
		Path:        "/screenshot",
		Summary:     "Capture a screenshot",
		Description: "Renders the page in a headless browser, or serves a cached copy of an identical earlier capture.",
		Tags:        []string{"Screenshot"},
		Responses:   imageResponses,
	}, func(ctx context.Context, input *postInput) (*imageOutput, error) {
		res, err := svc.Capture(ctx, input.Body.request())
		if err != nil {
			return nil, mapErr(err)
		}
		return newImageOutput(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-screenshot",
		Method:      http.MethodGet,
		Path:        "/screenshot",
		Summary:     "Capture a screenshot from query parameters",
		Tags:        []string{"Screenshot"},
		Responses:   imageResponses,
	}, func(ctx context.Context, input *screenshotQuery) (*imageOutput, error) {
		if input.URL == "" {
			return nil, huma.Error400BadRequest("URL parameter is required")
		}
		req, err := input.request()
		if err != nil {
			return nil, err
		}
		res, err := svc.Capture(ctx, req)
		if err != nil {
			return nil, mapErr(err)
		}
		return newImageOutput(res), nil
	})
}

func registerCacheHandlers(api huma.API, svc Service) {
	type clearOutput struct {
		Body struct {
			Message string `json:"message"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-cache", Method: http.MethodDelete, Path: "/cache", Summary: "Remove every cached screenshot", Tags: []string{"Cache"}},
		func(ctx context.Context, input *struct{}) (*clearOutput, error) {
			res := svc.ClearCache(ctx)
			if !res.Cleared {
				slog.Warn("cache clear refused", "reason", res.Reason)
				return nil, huma.Error503ServiceUnavailable("Cache service not available")
			}
			out := &clearOutput{}
			out.Body.Message = "Cache cleared successfully"
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *capture.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case capture.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		default:
			return huma.Error500InternalServerError(coded.Message)
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
