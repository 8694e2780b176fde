package escrow

import "errors"

// Sentinel errors returned by ledger operations. Callers match these with
// errors.Is; the HTTP layer maps them onto status codes.
var (
	ErrUnsupportedAsset   = errors.New("unsupported asset")
	ErrBelowMinimum       = errors.New("amount below minimum")
	ErrNotPositionOwner   = errors.New("requester does not own position")
	ErrTooManyPending     = errors.New("too many pending requests")
	ErrNotFound           = errors.New("request not found")
	ErrNotOwner           = errors.New("caller is not the requester")
	ErrNotCancellable     = errors.New("request is not cancellable")
	ErrAlreadyFinalized   = errors.New("request already finalized")
	ErrInsufficientEscrow = errors.New("insufficient escrow balance")
	ErrNotRelay           = errors.New("caller is not the bridge relay")
	ErrNotAllowed         = errors.New("requester not permitted")
	ErrPositionMismatch   = errors.New("result position does not match request")
)
