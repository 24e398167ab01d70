// Package observability provides event schemas, metrics, and tracing for
// the triage pipeline.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event channels for Redis pub/sub.
const (
	ChannelCycleCompleted = "events.triage.cycle_completed"
	ChannelItemScored     = "events.triage.item_scored"
	ChannelItemStale      = "events.triage.item_stale"
	ChannelError          = "events.triage.error"
)

// Cycle status values.
const (
	CycleStatusCompleted = "completed"
	CycleStatusPartial   = "partial"
	CycleStatusFailed    = "failed"
	CycleStatusDeferred  = "deferred"
)

// CycleEvent is emitted after each classification cycle finishes.
type CycleEvent struct {
	EventID     string    `json:"event_id"`
	Domain      string    `json:"domain"`
	TraceID     string    `json:"trace_id,omitempty"`
	Status      string    `json:"status"`
	ItemCount   int       `json:"item_count"`
	ScoredCount int       `json:"scored_count"`
	TokensUsed  int       `json:"tokens_used"`
	DurationMs  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewCycleEvent creates a cycle event with a generated ID.
func NewCycleEvent(domain, status string, itemCount, scoredCount, tokens int, durationMs int64) *CycleEvent {
	return &CycleEvent{
		EventID:     uuid.New().String(),
		Domain:      domain,
		Status:      status,
		ItemCount:   itemCount,
		ScoredCount: scoredCount,
		TokensUsed:  tokens,
		DurationMs:  durationMs,
		Timestamp:   time.Now(),
	}
}

// ScoreEvent is emitted when an item receives a new score.
type ScoreEvent struct {
	EventID    string    `json:"event_id"`
	Domain     string    `json:"domain"`
	TraceID    string    `json:"trace_id,omitempty"`
	ItemID     string    `json:"item_id"`
	Label      string    `json:"label"`
	PrevLabel  string    `json:"prev_label,omitempty"`
	Confidence float64   `json:"confidence"`
	Model      string    `json:"model,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewScoreEvent creates a score event with a generated ID.
func NewScoreEvent(domain, itemID, label, prevLabel string, confidence float64, model string) *ScoreEvent {
	return &ScoreEvent{
		EventID:    uuid.New().String(),
		Domain:     domain,
		ItemID:     itemID,
		Label:      label,
		PrevLabel:  prevLabel,
		Confidence: confidence,
		Model:      model,
		Timestamp:  time.Now(),
	}
}

// ErrorEvent is emitted when a cycle or call fails.
type ErrorEvent struct {
	EventID      string    `json:"event_id"`
	Domain       string    `json:"domain"`
	TraceID      string    `json:"trace_id,omitempty"`
	Stage        string    `json:"stage"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	Retryable    bool      `json:"retryable"`
	RetryCount   int       `json:"retry_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewErrorEvent creates an error event with a generated ID.
func NewErrorEvent(domain, stage, code, message string, retryable bool, retryCount int) *ErrorEvent {
	return &ErrorEvent{
		EventID:      uuid.New().String(),
		Domain:       domain,
		Stage:        stage,
		ErrorCode:    code,
		ErrorMessage: message,
		Retryable:    retryable,
		RetryCount:   retryCount,
		Timestamp:    time.Now(),
	}
}

// EventPublisher publishes events to pub/sub channels.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event interface{}) error
	Close() error
}

// RedisEventPublisher publishes events to Redis.
type RedisEventPublisher struct {
	client *redis.Client
}

// NewRedisEventPublisher creates a publisher over a Redis client.
func NewRedisEventPublisher(client *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{client: client}
}

// Publish marshals the event and publishes it to the channel.
func (p *RedisEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.Publish(ctx, channel, data).Err()
}

// Close closes the underlying Redis client.
func (p *RedisEventPublisher) Close() error {
	return p.client.Close()
}

// NoOpEventPublisher discards all events (for testing or disabled observability).
type NoOpEventPublisher struct{}

// Publish does nothing.
func (p *NoOpEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	return nil
}

// Close does nothing.
func (p *NoOpEventPublisher) Close() error {
	return nil
}

// EventEmitter provides a convenient interface for emitting triage events.
type EventEmitter struct {
	publisher EventPublisher
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter(publisher EventPublisher) *EventEmitter {
	return &EventEmitter{publisher: publisher}
}

// EmitCycleCompleted emits a cycle completion event.
func (e *EventEmitter) EmitCycleCompleted(ctx context.Context, event *CycleEvent) error {
	return e.publisher.Publish(ctx, ChannelCycleCompleted, event)
}

// EmitItemScored emits a score event.
func (e *EventEmitter) EmitItemScored(ctx context.Context, event *ScoreEvent) error {
	return e.publisher.Publish(ctx, ChannelItemScored, event)
}

// EmitItemStale emits a score event on the staleness channel.
func (e *EventEmitter) EmitItemStale(ctx context.Context, event *ScoreEvent) error {
	return e.publisher.Publish(ctx, ChannelItemStale, event)
}

// EmitError emits an error event.
func (e *EventEmitter) EmitError(ctx context.Context, event *ErrorEvent) error {
	return e.publisher.Publish(ctx, ChannelError, event)
}

// Close closes the underlying publisher.
func (e *EventEmitter) Close() error {
	return e.publisher.Close()
}
