package serialqueue

import (
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	kclock "k8s.io/utils/clock"
)

// Priority is a scheduling hint for the worker goroutine of a queue.
// It is fixed when the queue is created and applies to the worker only: individual work items have no priority, and items are never reordered.
//
// The Go runtime does not schedule goroutines by priority. The hint is attached to the worker goroutine as a pprof label and recorded in logs, metrics, and traces.
// With PriorityLow, the worker also yields the processor to other goroutines before picking up each item.
type Priority int

const (
	// PriorityDefault is the default priority.
	PriorityDefault Priority = iota
	// PriorityLow is for background work that should give way to other goroutines.
	PriorityLow
	// PriorityHigh is for latency-sensitive work.
	PriorityHigh
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "default"
	}
}

// ParsePriority returns the Priority for a name as returned by String.
// An empty string returns PriorityDefault.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return PriorityDefault, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityDefault, fmt.Errorf("invalid priority '%s'", s)
	}
}

// Options are options for New and NewFailable.
type Options struct {
	// Name of the queue, included in logs, metrics, and traces.
	// This is optional.
	Name string

	// Scheduling priority hint for the worker goroutine.
	// Defaults to PriorityDefault.
	Priority Priority

	// Number of items the buffer has room for before it needs to grow.
	// This is optional, and defaults to 16.
	InitialCapacity int

	// Logger used by the queue.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Meter used to record metrics.
	// If nil, metrics are not recorded.
	Meter metric.Meter

	// Tracer used to create a span for each work item.
	// If nil, spans are not created.
	Tracer trace.Tracer

	// Internal clock property, used for testing
	clock kclock.PassiveClock
}
