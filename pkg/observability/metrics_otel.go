package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments exported over OTLP alongside
// the Prometheus registry. Instruments bind to the global meter provider, so
// they record nothing until InitOTel installs one.
type OTelMetrics struct {
	storageOperations metric.Int64Counter
	storageDuration   metric.Float64Histogram
	storageBytes      metric.Int64Histogram

	collabSessions metric.Int64Counter
}

const meterName = "github.com/platinummonkey/gallery"

// NewOTelMetrics creates the instruments from the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)
	m := &OTelMetrics{}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.storageOperations, err = meter.Int64Counter("gallery.objects.operations",
		metric.WithDescription("Object store calls for picture bytes"),
		metric.WithUnit("{operation}"))
	collect(err)
	m.storageDuration, err = meter.Float64Histogram("gallery.objects.duration",
		metric.WithDescription("Object store call latency"),
		metric.WithUnit("s"))
	collect(err)
	m.storageBytes, err = meter.Int64Histogram("gallery.objects.bytes",
		metric.WithDescription("Picture bytes moved per object store call"),
		metric.WithUnit("By"))
	collect(err)
	m.collabSessions, err = meter.Int64Counter("gallery.collab.handshakes",
		metric.WithDescription("Collaborative edit handshakes by outcome"),
		metric.WithUnit("{handshake}"))
	collect(err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to create otel instruments: %w", err)
	}
	return m, nil
}

// RecordStorageOperation records one object storage call. Safe on a nil receiver.
func (m *OTelMetrics) RecordStorageOperation(ctx context.Context, operation, backend string, duration time.Duration, bytes int64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("gallery.objects.operation", operation),
		attribute.String("gallery.objects.backend", backend),
		attribute.Bool("error", err != nil),
	)

	m.storageOperations.Add(ctx, 1, attrs)
	m.storageDuration.Record(ctx, duration.Seconds(), attrs)
	if bytes > 0 {
		m.storageBytes.Record(ctx, bytes, attrs)
	}
}

// RecordCollabSession records a handshake outcome: "opened" or an error kind
func (m *OTelMetrics) RecordCollabSession(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.collabSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
