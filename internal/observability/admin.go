package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/edgerelay/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// AdminSource supplies the live state exposed on the admin endpoint.
type AdminSource interface {
	Snapshot() any
	Healthy() error
}

type adminOptions struct {
	auth auth.Validator
}

type AdminOption func(*adminOptions)

// WithAuth requires a bearer token on /stats and /metrics. /health stays
// open for probes.
func WithAuth(v auth.Validator) AdminOption {
	return func(o *adminOptions) { o.auth = v }
}

// NewAdminRouter serves /health, /stats and /metrics for one relay.
func NewAdminRouter(relay string, logger zerolog.Logger, src AdminSource, opts ...AdminOption) *gin.Engine {
	var o adminOptions
	for _, opt := range opts {
		opt(&o)
	}
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(RequestMetricsMiddleware(relay))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		body := gin.H{"relay": relay, "uptime": time.Since(started).String()}
		if err := src.Healthy(); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
			body["error"] = err.Error()
		}
		body["status"] = status
		c.JSON(code, body)
	})

	private := r.Group("/")
	if o.auth != nil {
		private.Use(RequireToken(o.auth))
	}
	private.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot())
	})
	private.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ServeAdmin runs handler on addr until ctx is cancelled.
func ServeAdmin(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info().Str("addr", addr).Msg("observability.ServeAdmin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
