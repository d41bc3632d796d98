package transfer

import (
	"errors"
	"strings"
)

// ErrorCategory represents the category of an error for handling purposes
type ErrorCategory int

const (
	// ErrorCategoryUnknown is anything not produced by this module.
	ErrorCategoryUnknown ErrorCategory = iota
	// ErrorCategoryTransport covers closed channels and unreachable signaling.
	ErrorCategoryTransport
	// ErrorCategoryProtocol covers malformed frames and invalid negotiation input.
	ErrorCategoryProtocol
	// ErrorCategoryPeerNotFound means the signaling server does not know the peer.
	ErrorCategoryPeerNotFound
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryTransport:
		return "transport"
	case ErrorCategoryProtocol:
		return "protocol"
	case ErrorCategoryPeerNotFound:
		return "peer-not-found"
	default:
		return "unknown"
	}
}

var (
	ErrTransportClosed      = errors.New("transport closed")
	ErrSignalingUnavailable = errors.New("signaling connection is not open")

	ErrMalformedFrame     = errors.New("malformed frame")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedPayload   = errors.New("malformed manual payload")
	ErrSDPTypeMismatch    = errors.New("unexpected session description type")
	ErrSelfConnection     = errors.New("cannot connect to yourself")
	ErrNoBuffer           = errors.New("no reassembly buffer for chunk")
	ErrDuplicateTransfer  = errors.New("transfer already in flight")
	ErrHashMismatch       = errors.New("content hash does not match transfer id")

	ErrPeerNotFound = errors.New("peer not found")
)

// Categorize maps an error onto the taxonomy used for reporting decisions.
func Categorize(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryUnknown
	case errors.Is(err, ErrTransportClosed), errors.Is(err, ErrSignalingUnavailable):
		return ErrorCategoryTransport
	case errors.Is(err, ErrPeerNotFound):
		return ErrorCategoryPeerNotFound
	case errors.Is(err, ErrMalformedFrame),
		errors.Is(err, ErrUnknownMessageType),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrSDPTypeMismatch),
		errors.Is(err, ErrSelfConnection),
		errors.Is(err, ErrNoBuffer),
		errors.Is(err, ErrDuplicateTransfer),
		errors.Is(err, ErrHashMismatch):
		return ErrorCategoryProtocol
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "closed"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "broken pipe"):
		return ErrorCategoryTransport
	case strings.Contains(errStr, "not found"):
		return ErrorCategoryPeerNotFound
	}
	return ErrorCategoryUnknown
}
