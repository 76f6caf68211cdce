package syncqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionMarkFailed(t *testing.T) {
	action := &Action{ID: "a-1", Status: ActionStatusPending}

	action.MarkFailed("upstream returned status 502")
	assert.Equal(t, ActionStatusFailed, action.Status)
	assert.Equal(t, 1, action.RetryCount)
	assert.Equal(t, "upstream returned status 502", action.LastError)

	action.MarkFailed("upstream returned status 500")
	assert.Equal(t, 2, action.RetryCount)
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "action:", ActionKeyPrefix)
	assert.Equal(t, "action_queue", ActionQueueKey)
	assert.Equal(t, "action_stats", ActionStatsKey)
	assert.Equal(t, 7*24*time.Hour, ActionTTL)
}
