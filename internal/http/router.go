// Package httpapi wires the status server: tracing, correlation IDs, access
// logging, panic recovery, metrics, compression, rate limiting and security
// headers in front of the health and last-run endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/thomasbruketta/therapy-ops-agent/internal/config"
	"github.com/thomasbruketta/therapy-ops-agent/internal/http/handlers"
	"github.com/thomasbruketta/therapy-ops-agent/internal/http/middleware"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Runs    handlers.RunSource
	Version string
	Log     zerolog.Logger
}

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Access logger (query scrubbed)
//  4. Recovery
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per IP)
//  8. Security headers
//  9. gzip
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Log))
	r.Use(middleware.Recovery())
	// Status endpoints take no bodies.
	r.Use(limitBody(64 << 10))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rl := middleware.NewRateLimiter(cfg.HTTP.RateRPS, cfg.HTTP.RateBurst, middleware.KeyByIP())
	r.Use(rl.Handler())

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.NewStatusHandler(deps.Runs, deps.Version)
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		api.GET("/runs/latest", h.LatestRun)
	}
}

// NewServer builds the engine and an *http.Server with the configured
// timeouts. The caller owns ListenAndServe and Shutdown.
func NewServer(deps Deps, cfg config.Config) *http.Server {
	gin.SetMode(cfg.HTTP.GinMode)
	r := gin.New()
	RegisterRoutes(r, deps, cfg)
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down within grace.
func Serve(ctx context.Context, srv *http.Server, grace time.Duration, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, open := <-errCh:
		if open {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("status server stopped")
	return nil
}

// limitBody caps request bodies with http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
