package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a lifecycle event emitted by the engine.
type EventType string

const (
	// EventExecutionStarted is emitted when an execution enters Running.
	EventExecutionStarted EventType = "execution.started"
	// EventExecutionCompleted is emitted when an execution completes.
	EventExecutionCompleted EventType = "execution.completed"
	// EventExecutionFailed is emitted when an execution fails with nothing to undo.
	EventExecutionFailed EventType = "execution.failed"
	// EventExecutionCompensating is emitted when compensation begins.
	EventExecutionCompensating EventType = "execution.compensating"
	// EventExecutionCompensated is emitted when the unwind finishes.
	EventExecutionCompensated EventType = "execution.compensated"
	// EventExecutionCancelled is emitted when a cancelled execution settles.
	EventExecutionCancelled EventType = "execution.cancelled"
	// EventStepCompleted is emitted when a step attempt succeeds.
	EventStepCompleted EventType = "step.completed"
	// EventStepFailed is emitted when a step attempt fails.
	EventStepFailed EventType = "step.failed"
	// EventStepSkipped is emitted when a conditional step is skipped.
	EventStepSkipped EventType = "step.skipped"
	// EventStepCompensated is emitted when a step's compensation settles.
	EventStepCompensated EventType = "step.compensated"
)

// Event carries information about one engine lifecycle transition.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Publisher delivers lifecycle events to an external bus. Publishing is
// fire-and-forget from the engine's perspective: implementations should
// be fast, and callers log (never propagate) a returned error.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to the structured log. Useful in development
// and as a fallback when no bus is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that logs every event.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(zap.String("component", "event_publisher"))}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("workflow event",
		zap.String("event_type", string(event.Type)),
		zap.String("execution_id", event.ExecutionID),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("payload", event.Payload),
	)
	return nil
}
