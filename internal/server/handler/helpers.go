package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"tidebridge/internal/escrow"
)

// writeJSON marshals v as JSON and writes it with the given status code. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error onto an HTTP status. Unrecognized
// errors become an opaque 500; the handler is expected to log those.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrNotOwner),
		errors.Is(err, escrow.ErrNotRelay),
		errors.Is(err, escrow.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrNotCancellable),
		errors.Is(err, escrow.ErrAlreadyFinalized):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrTooManyPending):
		return http.StatusTooManyRequests
	case errors.Is(err, escrow.ErrUnsupportedAsset),
		errors.Is(err, escrow.ErrBelowMinimum),
		errors.Is(err, escrow.ErrNotPositionOwner),
		errors.Is(err, escrow.ErrInsufficientEscrow),
		errors.Is(err, escrow.ErrPositionMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// pathID extracts a numeric {id} path parameter.
func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

// parseAddr validates and decodes a 0x-prefixed hex address parameter.
func parseAddr(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
