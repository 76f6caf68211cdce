package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/housecrystal-18/shopscanner/internal/pkg/cache"
)

const (
	// Redis key prefixes
	ActionKeyPrefix = "action:"
	ActionQueueKey  = "action_queue"
	ActionStatsKey  = "action_stats"

	// Queued actions survive a week before they expire.
	ActionTTL = 7 * 24 * time.Hour
)

// Queue buffers outbound actions in Redis while the upstream backend is
// unreachable. Order of enqueue is preserved in the list; replay completion
// order across items is not guaranteed.
type Queue struct {
	client *redis.Client
}

// NewQueue creates a queue on the shared Redis client.
func NewQueue() *Queue {
	return &Queue{client: cache.GetClient()}
}

// NewQueueWithClient creates a queue on an explicit client.
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue buffers one action. The payload is marshalled to JSON.
func (q *Queue) Enqueue(ctx context.Context, actionType string, payload any, endpoint, method string) (*Action, error) {
	if actionType == "" {
		return nil, fmt.Errorf("action type is required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if method == "" {
		method = "POST"
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal action payload: %w", err)
		}
		raw = data
	}

	action := &Action{
		ID:        uuid.New().String(),
		Type:      actionType,
		Endpoint:  endpoint,
		Method:    method,
		Payload:   raw,
		Status:    ActionStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	data, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, ActionKeyPrefix+action.ID, data, ActionTTL)
	pipe.RPush(ctx, ActionQueueKey, action.ID)
	pipe.HIncrBy(ctx, ActionStatsKey, string(ActionStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue action: %w", err)
	}

	log.Infof("[SyncQueue] Enqueued action %s (Type: %s, %s %s)", action.ID, action.Type, action.Method, action.Endpoint)
	return action, nil
}

// Flush replays every queued action concurrently. Each item is acknowledged
// individually: a confirmed success removes that item alone, a failure keeps
// it queued with an incremented retry count.
func (q *Queue) Flush(ctx context.Context, dispatcher Dispatcher) (FlushResult, error) {
	ids, err := q.client.LRange(ctx, ActionQueueKey, 0, -1).Result()
	if err != nil {
		return FlushResult{}, fmt.Errorf("failed to read action queue: %w", err)
	}
	result := FlushResult{Total: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	log.Infof("[SyncQueue] Flushing %d queued actions", len(ids))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(actionID string) {
			defer wg.Done()
			ok := q.replayOne(ctx, dispatcher, actionID)
			mu.Lock()
			if ok {
				result.Succeeded++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	log.Infof("[SyncQueue] Flush complete: %d synced, %d still queued", result.Succeeded, result.Failed)
	return result, nil
}

func (q *Queue) replayOne(ctx context.Context, dispatcher Dispatcher, actionID string) bool {
	action, err := q.Get(ctx, actionID)
	if err != nil {
		if err == redis.Nil {
			// Expired payload, drop the dangling list entry.
			q.ack(ctx, actionID, false)
			return false
		}
		log.Errorf("[SyncQueue] Failed to load action %s: %v", actionID, err)
		return false
	}

	if err := dispatcher.Dispatch(ctx, action); err != nil {
		action.MarkFailed(err.Error())
		q.update(ctx, action)
		log.Warnf("[SyncQueue] Action %s failed (attempt %d): %v", action.ID, action.RetryCount, err)
		return false
	}

	q.ack(ctx, actionID, true)
	return true
}

// ack removes one item from the queue after its own confirmed outcome.
func (q *Queue) ack(ctx context.Context, actionID string, synced bool) {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, ActionQueueKey, 1, actionID)
	pipe.Del(ctx, ActionKeyPrefix+actionID)
	pipe.HIncrBy(ctx, ActionStatsKey, string(ActionStatusPending), -1)
	if synced {
		pipe.HIncrBy(ctx, ActionStatsKey, string(ActionStatusSynced), 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[SyncQueue] Failed to acknowledge action %s: %v", actionID, err)
	}
}

func (q *Queue) update(ctx context.Context, action *Action) {
	data, err := json.Marshal(action)
	if err != nil {
		log.Errorf("[SyncQueue] Failed to marshal action %s: %v", action.ID, err)
		return
	}
	if err := q.client.Set(ctx, ActionKeyPrefix+action.ID, data, ActionTTL).Err(); err != nil {
		log.Errorf("[SyncQueue] Failed to update action %s: %v", action.ID, err)
	}
}

// Get loads one action by id.
func (q *Queue) Get(ctx context.Context, actionID string) (*Action, error) {
	data, err := q.client.Get(ctx, ActionKeyPrefix+actionID).Result()
	if err != nil {
		return nil, err
	}
	var action Action
	if err := json.Unmarshal([]byte(data), &action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action %s: %w", actionID, err)
	}
	return &action, nil
}

// Pending lists queued actions in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]Action, error) {
	ids, err := q.client.LRange(ctx, ActionQueueKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Action, 0, len(ids))
	for _, id := range ids {
		action, err := q.Get(ctx, id)
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		out = append(out, *action)
	}
	return out, nil
}

// Size returns the number of queued actions.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, ActionQueueKey).Result()
}

// Stats returns queue counters.
func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	raw, err := q.client.HGetAll(ctx, ActionStatsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := json.Number(v).Int64(); err == nil {
			out[k] = n
		}
	}
	return out, nil
}
