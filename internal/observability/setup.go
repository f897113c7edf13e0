package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/copduh/Interviewzwt/internal/config"
	"github.com/copduh/Interviewzwt/internal/infrastructure/observability"
)

// Setup initialises logging, the metrics listener and tracing. The returned
// function flushes traces and stops the metrics listener.
func Setup(ctx context.Context, cfg *config.Config) func(context.Context) error {
	observability.InitLogger(cfg.LogLevel)
	metricsServer := observability.InitMetrics(cfg.MetricsAddr)
	tracerShutdown := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)

	return func(ctx context.Context) error {
		var errs []error
		if metricsServer != nil {
			if err := metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		if err := tracerShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
}
