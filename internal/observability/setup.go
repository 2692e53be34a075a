package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/honeynil/PaymentBoxService/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup configures logging, metrics and tracing. It returns the tracer shutdown func
// and the handler that serves /metrics.
func Setup(ctx context.Context, serviceName, logLevel, otlpEndpoint string) (func(context.Context) error, http.Handler, error) {
	observability.InitLogger(logLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := observability.RegisterMetrics(reg); err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	tracerShutdown, err := observability.InitTracing(ctx, serviceName, otlpEndpoint)
	if err != nil {
		return nil, nil, err
	}
	return tracerShutdown, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
