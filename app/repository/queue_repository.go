package repository

import (
	"context"

	"github.com/housecrystal-18/shopscanner/internal/pkg/syncqueue"
)

// queueRepository reads queue state from the Redis-backed action queue.
type queueRepository struct {
	queue *syncqueue.Queue
}

// NewQueueRepository creates a queue repository over the given action queue.
func NewQueueRepository(queue *syncqueue.Queue) QueueRepository {
	return &queueRepository{queue: queue}
}

// PendingActions lists queued actions in enqueue order.
func (r *queueRepository) PendingActions(ctx context.Context) ([]syncqueue.Action, error) {
	return r.queue.Pending(ctx)
}

// QueueSize returns the number of queued actions.
func (r *queueRepository) QueueSize(ctx context.Context) (int64, error) {
	return r.queue.Size(ctx)
}

// QueueStats returns lifetime queue counters.
func (r *queueRepository) QueueStats(ctx context.Context) (map[string]int64, error) {
	return r.queue.Stats(ctx)
}
