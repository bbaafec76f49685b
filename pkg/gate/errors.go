package gate

import "errors"

// Reason is the caller-visible denial reason. The taxonomy is closed.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonInvalidSignature
	ReasonInvalidState
	ReasonHashMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonInvalidSignature:
		return "InvalidSignature"
	case ReasonInvalidState:
		return "InvalidState"
	case ReasonHashMismatch:
		return "HashMismatch"
	default:
		return "Unknown"
	}
}

type reasonError struct {
	reason Reason
	msg    string
}

func (e *reasonError) Error() string { return e.msg }

// Sentinel denial errors. Gate errors wrap exactly one of these.
var (
	// ErrInvalidSignature: key or signature malformed, verification failed,
	// or the approver is not registered. Treated as a forgery suspicion.
	ErrInvalidSignature error = &reasonError{ReasonInvalidSignature, "invalid signature"}
	// ErrInvalidState: the intent is not currently AUTHORIZED.
	ErrInvalidState error = &reasonError{ReasonInvalidState, "invalid state"}
	// ErrHashMismatch: missing or malformed raw input.
	ErrHashMismatch error = &reasonError{ReasonHashMismatch, "hash mismatch"}
)

// ErrNoOracle is returned by New when no state oracle is supplied.
var ErrNoOracle = errors.New("gate: state oracle is required")

// ReasonOf classifies err. Errors not produced by the gate map to ReasonNone.
func ReasonOf(err error) Reason {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason
	}
	return ReasonNone
}

// Outcome is the terminal state of one decision.
type Outcome string

const (
	Granted Outcome = "granted"
	Denied  Outcome = "denied"
)
