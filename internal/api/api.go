// Package api serves the management endpoints of the proxy.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sunbk201/rulegate/internal/config"
	applog "github.com/sunbk201/rulegate/internal/log"
	"github.com/sunbk201/rulegate/internal/server"
)

type APIServer struct {
	version        string
	cfg            atomic.Pointer[config.Config]
	addr           string
	proxy          *server.Server
	httpServer     *http.Server
	logBroadcaster *applog.Broadcaster
}

func New(addr string, version string, cfg *config.Config, proxy *server.Server, lb *applog.Broadcaster) *APIServer {
	s := &APIServer{
		version:        version,
		addr:           addr,
		proxy:          proxy,
		logBroadcaster: lb,
	}
	s.cfg.Store(cfg)
	return s
}

// SetConfig swaps the configuration reported by /config after a reload.
func (s *APIServer) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Handler builds the router of every endpoint.
func (s *APIServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.authMiddleware)
	if limit := s.cfg.Load().APIRateLimit; limit > 0 {
		r.Use(rateLimit(limit))
	}

	r.Get("/version", s.handleVersion)
	r.Get("/config", s.handleConfig)

	r.Get("/rules", s.handleRules)
	r.Get("/plugins", s.handlePlugins)
	r.Get("/inspect", s.handleInspect)

	r.Route("/stats", func(r chi.Router) {
		r.Get("/rewrites", s.handleRewriteStats)
		r.Get("/pipes", s.handlePipeStats)
		r.Get("/connections", s.handleConnectionStats)
	})

	r.Get("/logs", s.handleLogs)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.proxy.Metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		r.Handle("/{name}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pprof.Handler(chi.URLParam(r, "name")).ServeHTTP(w, r)
		}))
	})
	return r
}

func (s *APIServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}
	slog.Info("API server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http.Server.Serve", slog.Any("error", err))
		}
	}()
	return nil
}

func (s *APIServer) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("API request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)),
		)
	})
}

// authMiddleware accepts the secret as a bearer token or a secret query
// parameter. An empty secret disables the check.
func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.cfg.Load().APIServerSecret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = r.Header.Get("Authorization")
		}
		if token == "" {
			token = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects requests beyond limit per second across all clients.
func rateLimit(limit float64) func(http.Handler) http.Handler {
	lim := rate.NewLimiter(rate.Limit(limit), max(1, int(limit)))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
