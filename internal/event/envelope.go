package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeRequestSubmitted
	EventTypeRequestCancelled
	EventTypeProcessingStarted
	EventTypeRequestCompleted
	EventTypeRequestFailed
	EventTypeRequestDropped
	EventTypeEscrowCorrected
	EventTypeBatchProcessed
	EventTypeReceiptIssued
)

func (et EventType) String() string {
	switch et {
	case EventTypeRequestSubmitted:
		return "RequestSubmitted"
	case EventTypeRequestCancelled:
		return "RequestCancelled"
	case EventTypeProcessingStarted:
		return "ProcessingStarted"
	case EventTypeRequestCompleted:
		return "RequestCompleted"
	case EventTypeRequestFailed:
		return "RequestFailed"
	case EventTypeRequestDropped:
		return "RequestDropped"
	case EventTypeEscrowCorrected:
		return "EscrowCorrected"
	case EventTypeBatchProcessed:
		return "BatchProcessed"
	case EventTypeReceiptIssued:
		return "ReceiptIssued"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject token for this event type
func (et EventType) Subject() string {
	switch et {
	case EventTypeRequestSubmitted:
		return "submitted"
	case EventTypeRequestCancelled:
		return "cancelled"
	case EventTypeProcessingStarted:
		return "processing"
	case EventTypeRequestCompleted:
		return "completed"
	case EventTypeRequestFailed:
		return "failed"
	case EventTypeRequestDropped:
		return "dropped"
	case EventTypeEscrowCorrected:
		return "corrected"
	case EventTypeBatchProcessed:
		return "batch"
	case EventTypeReceiptIssued:
		return "receipt"
	default:
		return "unknown"
	}
}

// RequestEvent wraps every entry in the request event log. Exactly one of
// Request, Correction, Summary, or Receipt is set, matching the event type.
type RequestEvent struct {
	// Global monotonic sequence assigned by the escrow ledger.
	// Zero for worker-emitted events, which carry their own run counter.
	Seq int64 `json:"seq,omitempty"`

	// Event type discriminator
	Type EventType `json:"-"`

	// Wire name of the event type
	TypeName string `json:"event_type"`

	Timestamp time.Time `json:"timestamp"`

	Request    *RequestSnapshot  `json:"request,omitempty"`
	Correction *EscrowCorrection `json:"correction,omitempty"`
	Summary    *BatchSummary     `json:"summary,omitempty"`
	Receipt    *SignedReceipt    `json:"receipt,omitempty"`
}
