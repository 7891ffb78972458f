// Package telemetry provides OpenTelemetry instrumentation for the
// orchestrator. Metrics are exported through a Prometheus registry and
// served on the API's /metrics endpoint.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// ServiceName identifies this service in exported metrics.
	ServiceName = "datahub-api"
)

// Provider bundles the meter provider with the HTTP handler that serves its
// scrape endpoint.
type Provider struct {
	MeterProvider metric.MeterProvider
	Handler       http.Handler

	shutdown func() error
}

// NewProvider creates a meter provider backed by a Prometheus exporter.
// When enabled is false it returns a no-op provider and a handler that
// reports metrics as disabled.
func NewProvider(enabled bool, serviceVersion string) (*Provider, error) {
	if !enabled {
		return &Provider{
			MeterProvider: noop.NewMeterProvider(),
			Handler:       disabledHandler(),
			shutdown:      func() error { return nil },
		}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	return &Provider{
		MeterProvider: mp,
		Handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		shutdown: func() error {
			return mp.Shutdown(context.Background())
		},
	}, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown() error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown()
}

func disabledHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("metrics are disabled\n"))
	})
}
