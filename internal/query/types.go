package query

import "time"

// RequestRecord is the wire form of a stored request.
type RequestRecord struct {
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
	UpdatedAt     time.Time `json:"updated_at"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// EscrowBalance is one requester's escrow holding in a single asset.
type EscrowBalance struct {
	Requester    string `json:"requester"`
	Asset        string `json:"asset"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PositionRecord maps a position to its registered owner.
type PositionRecord struct {
	PositionID   string `json:"position_id"`
	Owner        string `json:"owner"`
	AsOfSequence int64  `json:"as_of_sequence"`
}
