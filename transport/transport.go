// Package transport defines the reader-adapter contract the rest of
// this module drives cards through, plus narrow optional-capability
// interfaces for readers that need PN532-style escape framing.
package transport

import "context"

// Reader is the mandatory contract: send raw bytes, get raw bytes
// back. Everything else (chaining, retry, Le negotiation) lives above
// this package in transmit.
type Reader interface {
	Transmit(ctx context.Context, req []byte) ([]byte, error)
}

// EscapeCapable is an optional capability for readers that expose a
// raw CCID escape channel, used to wrap an APDU in PN532 framing when
// the ISO 7816 transparent path returns nothing usable.
type EscapeCapable interface {
	Escape(ctx context.Context, req []byte) ([]byte, error)
}

// ISODEPEnsurer is an optional capability for readers that can force
// ISO-DEP activation (e.g. a RATS). transmit.Engine does not check
// for it; a caller that wants activation calls EnsureISODEP itself.
type ISODEPEnsurer interface {
	EnsureISODEP(ctx context.Context) error
}

// Name is an optional capability exposing a reader identity hint, used
// by callers to decide whether to wrap a Reader with the escape
// adapter; the core does not auto-detect reader identity.
type Name interface {
	Name() string
}
