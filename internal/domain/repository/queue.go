package repository

import "context"

// BackgroundTaskKind distinguishes the background-task variants the
// controller and variant store publish rather than running as bare
// goroutines (§4.7 TTL refresh, §4.9 background writes).
type BackgroundTaskKind string

const (
	// TaskRevalidateVariant re-writes a variant store entry with an
	// extended TTL after a read observes it past its refresh fraction.
	TaskRevalidateVariant BackgroundTaskKind = "revalidate_variant"

	// TaskWriteEdgeCache persists a transformation result into the edge
	// HTTP cache when no synchronous execution context is available.
	TaskWriteEdgeCache BackgroundTaskKind = "write_edge_cache"

	// TaskWriteVariant persists a transformation result into the variant
	// store in the background so the response is not delayed.
	TaskWriteVariant BackgroundTaskKind = "write_variant"
)

// BackgroundTask is a durable message describing one background write or
// refresh, published so it survives a worker restart.
type BackgroundTask struct {
	Kind        BackgroundTaskKind `json:"kind"`
	Key         string             `json:"key"`
	Body        []byte             `json:"body,omitempty"`
	ContentType string             `json:"content_type,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	TTLSeconds  int                `json:"ttl_seconds"`
	RetryCount  int                `json:"retry_count"`
}

// MessageQueue defines the interface for message queue operations.
// Implementations live in the infrastructure layer (e.g., RabbitMQ).
type MessageQueue interface {
	// PublishTask sends a background task to the queue. Used by the
	// cache controller and variant store so background writes are
	// durable rather than bare goroutines.
	PublishTask(ctx context.Context, task BackgroundTask) error

	// ConsumeTasks starts consuming background tasks from the queue.
	// The handler function is called for each received task. Used by
	// the worker binary.
	ConsumeTasks(ctx context.Context, handler func(task BackgroundTask) error) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}
