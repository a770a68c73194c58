// Package otel configures an OpenTelemetry MeterProvider with an OTLP gRPC
// exporter for the service metrics.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Providers holds the MeterProvider and a shutdown function.
type Providers struct {
	MeterProvider *metric.MeterProvider
	Shutdown      func(context.Context) error
}

// NewProviders creates a MeterProvider exporting via OTLP gRPC to the given
// endpoint. If endpoint is empty, a no-op provider is returned and Shutdown
// does nothing. https endpoints use TLS; everything else dials insecurely.
func NewProviders(ctx context.Context, endpoint, serviceName string) (*Providers, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return &Providers{
			MeterProvider: metric.NewMeterProvider(),
			Shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	// OTLP gRPC expects host:port; parse as URL so scheme and path are dropped.
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if u.Scheme != "https" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	reader := metric.NewPeriodicReader(exp, metric.WithInterval(10*time.Second))
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	)

	return &Providers{
		MeterProvider: mp,
		Shutdown:      mp.Shutdown,
	}, nil
}
