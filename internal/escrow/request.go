package escrow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"tidebridge/internal/event"
)

// RequestKind defines the type of cross-ledger request.
type RequestKind int32

const (
	KindOpenPosition RequestKind = iota
	KindAddFunds
	KindWithdrawFunds
	KindClosePosition
)

func (rk RequestKind) String() string {
	switch rk {
	case KindOpenPosition:
		return "OPEN_POSITION"
	case KindAddFunds:
		return "ADD_FUNDS"
	case KindWithdrawFunds:
		return "WITHDRAW_FUNDS"
	case KindClosePosition:
		return "CLOSE_POSITION"
	default:
		return "UNKNOWN"
	}
}

// ParseRequestKind maps a wire string back to its RequestKind.
func ParseRequestKind(s string) (RequestKind, bool) {
	switch s {
	case "OPEN_POSITION":
		return KindOpenPosition, true
	case "ADD_FUNDS":
		return KindAddFunds, true
	case "WITHDRAW_FUNDS":
		return KindWithdrawFunds, true
	case "CLOSE_POSITION":
		return KindClosePosition, true
	default:
		return 0, false
	}
}

// IsFunding reports whether the kind carries a deposit into escrow at
// submission time. Funding amounts are held in the requester's escrow
// account until the request finalizes.
func (rk RequestKind) IsFunding() bool {
	return rk == KindOpenPosition || rk == KindAddFunds
}

// RequiresOwnership reports whether the kind targets an existing position
// and therefore must be submitted by that position's owner.
func (rk RequestKind) RequiresOwnership() bool {
	return rk == KindAddFunds || rk == KindWithdrawFunds || rk == KindClosePosition
}

// RequestStatus represents the lifecycle state of a request.
// PENDING → PROCESSING → COMPLETED | FAILED. Cancellation short-circuits
// PENDING straight to FAILED.
type RequestStatus int32

const (
	StatusPending RequestStatus = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
)

func (rs RequestStatus) String() string {
	switch rs {
	case StatusPending:
		return "PENDING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ParseRequestStatus maps a wire string back to its RequestStatus.
func ParseRequestStatus(s string) (RequestStatus, bool) {
	switch s {
	case "PENDING":
		return StatusPending, true
	case "PROCESSING":
		return StatusProcessing, true
	case "COMPLETED":
		return StatusCompleted, true
	case "FAILED":
		return StatusFailed, true
	default:
		return 0, false
	}
}

// CanTransitionTo validates request status transitions.
func (rs RequestStatus) CanTransitionTo(next RequestStatus) bool {
	transitions := map[RequestStatus][]RequestStatus{
		StatusPending: {
			StatusProcessing,
			StatusFailed, // Cancelled or dropped before pickup
		},
		StatusProcessing: {
			StatusCompleted,
			StatusFailed,
		},
		StatusCompleted: {
			// Terminal state
		},
		StatusFailed: {
			// Terminal state
		},
	}

	allowed, ok := transitions[rs]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if next == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status admits no further transitions.
func (rs RequestStatus) IsTerminal() bool {
	return rs == StatusCompleted || rs == StatusFailed
}

// Request is a single cross-ledger escrow request. Requests are identified
// by a monotonically increasing uint64 assigned at submission; the bridge
// worker drains them strictly in id order.
type Request struct {
	ID        uint64
	Requester common.Address
	Kind      RequestKind
	Asset     string
	Amount    int64

	// PositionID is the target position for ADD_FUNDS, WITHDRAW_FUNDS and
	// CLOSE_POSITION. For OPEN_POSITION it stays uuid.Nil until the bridge
	// reports the newly created position back at completion.
	PositionID   uuid.UUID
	PositionType string
	Strategy     string

	Status        RequestStatus
	ResultMessage string
	CreatedAt     time.Time
}

// Snapshot renders the request for event emission and API responses.
func (r *Request) Snapshot() *event.RequestSnapshot {
	s := &event.RequestSnapshot{
		ID:            r.ID,
		Requester:     r.Requester.Hex(),
		Kind:          r.Kind.String(),
		Status:        r.Status.String(),
		Asset:         r.Asset,
		Amount:        r.Amount,
		PositionType:  r.PositionType,
		Strategy:      r.Strategy,
		ResultMessage: r.ResultMessage,
		CreatedAt:     r.CreatedAt,
	}
	if r.PositionID != uuid.Nil {
		s.PositionID = r.PositionID.String()
	}
	return s
}
