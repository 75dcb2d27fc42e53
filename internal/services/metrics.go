package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("labelworks/orchestrator")

// counter is a nil-safe wrapper so a failed instrument registration
// degrades to a no-op instead of panicking on Add.
type counter struct {
	c metric.Int64Counter
}

func newCounter(name, description string) counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return counter{}
	}
	return counter{c: c}
}

func (c counter) Add(ctx context.Context, delta int64, attrs ...attribute.KeyValue) {
	if c.c == nil {
		return
	}
	c.c.Add(ctx, delta, metric.WithAttributes(attrs...))
}
