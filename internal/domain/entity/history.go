package entity

import "time"

// TransitionRecord is one entry of the append-only request history
type TransitionRecord struct {
	ID             int64     `json:"id"`
	RequestID      string    `json:"request_id"`
	Role           Role      `json:"role,omitempty"`
	Actor          string    `json:"actor"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Action         string    `json:"action"`
	Note           string    `json:"note,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
