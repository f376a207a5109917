package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/pagesnap/internal/netutil"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

func requestLogger(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", netutil.ClientIP(r, trustProxy),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

const corsAllowMethods = "GET,HEAD,PUT,PATCH,POST,DELETE"

// cors reflects the request origin and allows credentials.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", "X-Screenshot-Cached, X-Screenshot-Size, X-Screenshot-Width, X-Screenshot-Height, Retry-After")

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			next.ServeHTTP(w, r)
			return
		}
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Headers", reqHeaders)
		}
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusNoContent)
	})
}

// maxTrackedClients bounds the limiter table; least recently seen clients
// are evicted and start over with a full bucket.
const maxTrackedClients = 10000

// rateLimiter applies a per-client token bucket refilled at max per window.
// Clients are keyed by socket peer unless trustProxy is set.
type rateLimiter struct {
	limit      rate.Limit
	burst      int
	trustProxy bool
	clients    *lru.Cache[string, *rate.Limiter]
	now        func() time.Time
}

func newRateLimiter(maxRequests int, window time.Duration, trustProxy bool) *rateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	clients, err := lru.New[string, *rate.Limiter](maxTrackedClients)
	if err != nil {
		panic(err)
	}
	return &rateLimiter{
		limit:      rate.Every(window / time.Duration(maxRequests)),
		burst:      maxRequests,
		trustProxy: trustProxy,
		clients:    clients,
		now:        time.Now,
	}
}

func (rl *rateLimiter) limiterFor(ip string) *rate.Limiter {
	if l, ok := rl.clients.Get(ip); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if prev, ok, _ := rl.clients.PeekOrAdd(ip, l); ok {
		return prev
	}
	return l
}

// reserve takes a token for ip, returning how long to wait when none is left.
func (rl *rateLimiter) reserve(ip string) (time.Duration, int) {
	now := rl.now()
	l := rl.limiterFor(ip)
	res := l.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, 0
	}
	return 0, int(math.Max(0, math.Floor(l.TokensAt(now))))
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := netutil.ClientIP(r, rl.trustProxy)
		wait, remaining := rl.reserve(ip)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if wait == 0 {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(math.Ceil(wait.Seconds()))
		h.Set("Retry-After", strconv.Itoa(retryAfter))
		slog.Warn("rate limit exceeded", "remote", ip, "retry_after_s", retryAfter)
		writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded, retry in "+strconv.Itoa(retryAfter)+" seconds")
	})
}

// writeProblem renders an error in the same shape huma uses for handler errors.
func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	body := huma.ErrorModel{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("problem response write failed", "error", err)
	}
}
