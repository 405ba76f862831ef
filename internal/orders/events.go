package orders

import (
	"encoding/json"
	"time"
)

const (
	EventRowInserted = "RowInserted"
	EventRowReplaced = "RowReplaced"
	EventRowDeleted  = "RowDeleted"
	// Replace that landed in Cancelled and was tombstoned in the same commit.
	EventOrderCancelled = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // row id
	Payload       json.RawMessage `json:"payload"`
}

// RowChangedPayload is published after every committed table write. UserIDs
// lists the workers whose view of the table may have changed.
type RowChangedPayload struct {
	Table     string    `json:"table"`
	RowID     string    `json:"row_id"`
	Version   string    `json:"version"`
	Deleted   bool      `json:"deleted"`
	Status    Status    `json:"status,omitempty"`
	UserIDs   []string  `json:"user_ids,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
