package syncqueue

import (
	"encoding/json"
	"time"
)

// ActionStatus tracks an action through the queue.
type ActionStatus string

const (
	ActionStatusPending ActionStatus = "pending"
	ActionStatusSynced  ActionStatus = "synced"
	ActionStatusFailed  ActionStatus = "failed"
)

// Action is one buffered mutating call against the upstream backend.
type Action struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Endpoint   string          `json:"endpoint"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     ActionStatus    `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	LastError  string          `json:"last_error,omitempty"`
	RetryCount int             `json:"retry_count"`
}

// MarkFailed records a failed replay attempt.
func (a *Action) MarkFailed(errMsg string) {
	a.Status = ActionStatusFailed
	a.LastError = errMsg
	a.RetryCount++
	a.UpdatedAt = time.Now()
}

// FlushResult summarizes one replay pass over the queue.
type FlushResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
