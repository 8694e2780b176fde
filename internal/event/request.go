package event

import "time"

// RequestSnapshot is the wire form of a request after a lifecycle transition.
// Kind and status travel as their canonical upper-case names.
type RequestSnapshot struct {
	ID            uint64    `json:"id"`
	Requester     string    `json:"requester"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	Asset         string    `json:"asset"`
	Amount        int64     `json:"amount"`
	PositionID    string    `json:"position_id,omitempty"`
	PositionType  string    `json:"position_type,omitempty"`
	Strategy      string    `json:"strategy,omitempty"`
	ResultMessage string    `json:"result_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EscrowCorrection records a bridge-issued balance correction.
type EscrowCorrection struct {
	Requester string `json:"requester"`
	Asset     string `json:"asset"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
}
