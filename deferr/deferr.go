// Package deferr classifies DESFire status words into a small set of
// typed failure kinds so callers can branch on meaning instead of on
// raw SW1/SW2 pairs.
package deferr

import "fmt"

// Kind is the abstract reason a card operation failed.
type Kind int

const (
	// KindUnknown is never returned by Classify; it only appears if a
	// Error value is constructed without a kind.
	KindUnknown Kind = iota
	KindTransport
	KindProtocol
	KindLengthMismatch
	KindAuthFailed
	KindPermissionDenied
	KindNotFound
	KindDuplicate
	KindOutOfMemory
	KindIntegrityError
	KindBoundary
	KindAborted
	KindIllegalCommand
	KindPreconditionNotAuthenticated
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindLengthMismatch:
		return "length_mismatch"
	case KindAuthFailed:
		return "auth_failed"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindIntegrityError:
		return "integrity_error"
	case KindBoundary:
		return "boundary"
	case KindAborted:
		return "aborted"
	case KindIllegalCommand:
		return "illegal_command"
	case KindPreconditionNotAuthenticated:
		return "precondition_not_authenticated"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by this module's packages.
// SW1/SW2 are zero when the failure never reached the card (Transport,
// PreconditionNotAuthenticated).
type Error struct {
	Kind     Kind
	SW1, SW2 byte
	Cause    error
}

func (e *Error) Error() string {
	if e.SW1 == 0 && e.SW2 == 0 {
		if e.Cause != nil {
			return fmt.Sprintf("desfire: %s: %v", e.Kind, e.Cause)
		}
		return fmt.Sprintf("desfire: %s", e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("desfire: %s (SW=%02X%02X): %v", e.Kind, e.SW1, e.SW2, e.Cause)
	}
	return fmt.Sprintf("desfire: %s (SW=%02X%02X)", e.Kind, e.SW1, e.SW2)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, deferr.AuthFailed) work against a bare Kind
// sentinel produced by New.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.SW1 == 0 && other.SW2 == 0 && other.Cause == nil && other.Kind == e.Kind
}

// New constructs a sentinel Error of the given kind, suitable for use
// with errors.Is as the comparison target (e.g. deferr.AuthFailed).
func New(k Kind) *Error { return &Error{Kind: k} }

// Wrap constructs an Error carrying the SW pair and an underlying cause.
func Wrap(k Kind, sw1, sw2 byte, cause error) *Error {
	return &Error{Kind: k, SW1: sw1, SW2: sw2, Cause: cause}
}

// Sentinels usable with errors.Is.
var (
	Transport                     = New(KindTransport)
	Protocol                      = New(KindProtocol)
	LengthMismatch                = New(KindLengthMismatch)
	AuthFailed                    = New(KindAuthFailed)
	PermissionDenied              = New(KindPermissionDenied)
	NotFound                      = New(KindNotFound)
	Duplicate                     = New(KindDuplicate)
	OutOfMemory                   = New(KindOutOfMemory)
	IntegrityError                = New(KindIntegrityError)
	Boundary                      = New(KindBoundary)
	Aborted                       = New(KindAborted)
	IllegalCommand                = New(KindIllegalCommand)
	PreconditionNotAuthenticated  = New(KindPreconditionNotAuthenticated)
)

// Classify maps a DESFire native status word (SW1/SW2 as transmitted
// after native-wrapped framing, i.e. 0x91xx) or an ISO 7816 status word
// to a Kind. It does not itself decide success/continuation; callers
// check apdu.Response's IsSuccess/IsContinuation first and only
// classify non-success, non-continuation codes.
func Classify(sw1, sw2 byte) Kind {
	sw := uint16(sw1)<<8 | uint16(sw2)
	switch sw {
	case 0x91AE:
		return KindAuthFailed
	case 0x919D:
		return KindPermissionDenied
	case 0x91F0, 0x6A82:
		return KindNotFound
	case 0x91DE:
		return KindDuplicate
	case 0x919C:
		return KindOutOfMemory
	case 0x91C1, 0x91FE:
		return KindIntegrityError
	case 0x91BE:
		return KindBoundary
	case 0x91CA:
		return KindAborted
	case 0x919E, 0x6D00:
		return KindIllegalCommand
	case 0x917E, 0x91A1:
		return KindLengthMismatch
	}
	return KindProtocol
}
