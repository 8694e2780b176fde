package event

// SignedReceipt is the bridge relay's attestation of a finalized request.
// The signature covers the canonical receipt digest and can be checked
// against the signer address by any downstream consumer.
type SignedReceipt struct {
	RequestID      uint64 `json:"request_id"`
	Success        bool   `json:"success"`
	PositionID     string `json:"position_id,omitempty"`
	ReturnedAmount uint64 `json:"returned_amount"`
	Message        string `json:"message,omitempty"`
	Signer         string `json:"signer"`
	Signature      string `json:"signature"`
}
