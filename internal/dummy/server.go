package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ratecheck/internal/logger"
)

type ServerConfig struct {
	Port int
	// Rate is tokens per second granted to each key.
	Rate  float64
	Burst int
	// BlockFor is how long a key is rejected once its bucket runs dry.
	BlockFor  time.Duration
	KeyHeader string
	Log       *zap.Logger

	now func() time.Time
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:      8080,
		Rate:      10,
		Burst:     10,
		BlockFor:  2 * time.Second,
		KeyHeader: "API_KEY",
	}
}

type bucket struct {
	lim          *rate.Limiter
	blockedUntil time.Time
}

type limiter struct {
	cfg     ServerConfig
	mu      sync.Mutex
	buckets map[string]*bucket
}

type decision struct {
	allowed    bool
	remaining  int
	reset      time.Time
	blockUntil time.Time
}

func (l *limiter) decide(key string) decision {
	now := l.cfg.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst)}
		l.buckets[key] = b
	}
	if now.Before(b.blockedUntil) {
		return decision{blockUntil: b.blockedUntil}
	}
	if !b.lim.AllowN(now, 1) {
		b.blockedUntil = now.Add(l.cfg.BlockFor)
		return decision{blockUntil: b.blockedUntil}
	}

	tokens := b.lim.TokensAt(now)
	missing := float64(l.cfg.Burst) - tokens
	reset := now
	if missing > 0 && l.cfg.Rate > 0 {
		reset = now.Add(time.Duration(missing / l.cfg.Rate * float64(time.Second)))
	}
	return decision{allowed: true, remaining: int(tokens), reset: reset}
}

func keyFor(r *http.Request, header string) string {
	if header != "" {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// Handler speaks the admission contract: 200 with X-Ratelimit-Remaining
// and X-Ratelimit-Reset, or 429 with a JSON block_until.
func Handler(cfg ServerConfig) http.Handler {
	d := DefaultServerConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = d.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.BlockFor < 0 {
		cfg.BlockFor = 0
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	l := &limiter{cfg: cfg, buckets: make(map[string]*bucket)}

	limited := func(work func()) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := keyFor(r, cfg.KeyHeader)
			dec := l.decide(key)
			if !dec.allowed {
				cfg.Log.Debug("key blocked", zap.String("key", key), zap.Time("block_until", dec.blockUntil))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error":       "rate limit exceeded",
					"block_until": dec.blockUntil.UTC().Format(time.RFC3339),
				})
				return
			}
			if work != nil {
				work()
			}
			w.Header().Set("X-Ratelimit-Remaining", strconv.Itoa(dec.remaining))
			w.Header().Set("X-Ratelimit-Reset", dec.reset.UTC().Format(time.RFC3339))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", limited(nil))

	// 200-500ms, still admission controlled.
	mux.HandleFunc("/slow", limited(func() {
		time.Sleep(time.Duration(rand.Intn(300)+200) * time.Millisecond)
	}))

	// One in five requests fails before admission.
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float32() < 0.2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("503 Service Unavailable"))
			return
		}
		limited(nil)(w, r)
	})

	return mux
}

// Serve runs the stub until ctx is cancelled.
func Serve(ctx context.Context, cfg ServerConfig) error {
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	cfg.Log.Info("dummy target listening",
		zap.String("url", "http://localhost"+addr),
		zap.Float64("rate", cfg.Rate),
		zap.Int("burst", cfg.Burst),
		zap.Duration("block", cfg.BlockFor),
		zap.Strings("endpoints", []string{"/", "/slow", "/error"}))

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
