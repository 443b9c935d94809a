// Package telemetry holds the OpenTelemetry instruments for the registry
// agent. With no meter provider installed the instruments are no-ops, so
// every recorder is safe to call unconditionally.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InvocationMetrics counts confirmed registry invocations and the reference
// searches run on their behalf. A nil receiver records nothing.
type InvocationMetrics struct {
	// invocationCounter tracks confirmed invocations by operation and outcome
	invocationCounter metric.Int64Counter

	// searchCounter tracks reference searches by subtype
	searchCounter metric.Int64Counter
}

// NewInvocationMetrics creates the invocation instruments on the global meter.
func NewInvocationMetrics() (*InvocationMetrics, error) {
	meter := otel.Meter("registry-mcp/invoker")

	invocationCounter, err := meter.Int64Counter(
		"registry_mcp.invocations.total",
		metric.WithDescription("Confirmed registry invocations by operation and status"),
	)
	if err != nil {
		return nil, err
	}

	searchCounter, err := meter.Int64Counter(
		"registry_mcp.reference_searches.total",
		metric.WithDescription("Reference searches run on behalf of workflows"),
	)
	if err != nil {
		return nil, err
	}

	return &InvocationMetrics{
		invocationCounter: invocationCounter,
		searchCounter:     searchCounter,
	}, nil
}

// RecordInvocation counts one confirmed invocation with its final status.
func (m *InvocationMetrics) RecordInvocation(ctx context.Context, operation, status string) {
	if m == nil {
		return
	}
	m.invocationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordSearch counts one reference search.
func (m *InvocationMetrics) RecordSearch(ctx context.Context, subtype string) {
	if m == nil {
		return
	}
	m.searchCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("subtype", subtype),
		),
	)
}
