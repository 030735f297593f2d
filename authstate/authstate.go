// Package authstate implements the four DESFire authentication
// handshakes as a tagged variant dispatched by Mode, rather than by a
// class hierarchy: each mode supplies its own block size, cipher, and
// key-derivation function behind the small handshake interface in
// handshake.go.
package authstate

import (
	"context"
	"crypto/subtle"

	"github.com/barnettlynn/desfire/dcrypto"
	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/transmit"
)

// Mode names one of the four authentication handshakes.
type Mode int

const (
	ModeLegacyDES Mode = iota
	ModeAES
	ModeEV2First
	ModeEV2NonFirst
)

func (m Mode) String() string {
	switch m {
	case ModeLegacyDES:
		return "legacy-des"
	case ModeAES:
		return "aes"
	case ModeEV2First:
		return "ev2-first"
	case ModeEV2NonFirst:
		return "ev2-non-first"
	default:
		return "unknown"
	}
}

// Opcode values for the four authentication commands, plus the
// reserved ISO-authenticate opcode (see DESIGN.md Open Question 3).
const (
	OpcodeLegacyDES       = 0x0A
	OpcodeAES             = 0xAA
	OpcodeEV2First        = 0x71
	OpcodeEV2NonFirst     = 0x77
	OpcodeISOAuthenticate = 0x1A // reserved, never dispatched
)

// Result is the outcome of a successful handshake: everything session.Session
// needs to start a secure-messaging session, or nothing beyond
// authenticated/key_no for the legacy mode.
type Result struct {
	Mode          Mode
	KeyNo         byte
	SessionEncKey []byte // nil for ModeLegacyDES
	SessionMACKey []byte // nil for ModeLegacyDES
	TransactionID []byte // only for EV2First/EV2NonFirst
}

// Zero scrubs all key material held by a Result.
func (r *Result) Zero() {
	dcrypto.Zero(r.SessionEncKey)
	dcrypto.Zero(r.SessionMACKey)
}

// Authenticate runs the handshake named by mode against eng, using key
// for keyNo. existingTI is required (and reused) for ModeEV2NonFirst,
// ignored otherwise.
func Authenticate(ctx context.Context, eng *transmit.Engine, mode Mode, key []byte, keyNo byte, existingTI []byte) (*Result, error) {
	hs, err := handshakeFor(mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeEV2NonFirst && len(existingTI) != 4 {
		return nil, deferr.Wrap(deferr.KindPreconditionNotAuthenticated, 0, 0,
			errNoTransactionID)
	}

	rndA, err := dcrypto.RandomBytes(hs.blockSize())
	if err != nil {
		return nil, deferr.Wrap(deferr.KindProtocol, 0, 0, err)
	}

	rndB, err := hs.step1(ctx, eng, key, keyNo)
	if err != nil {
		dcrypto.Zero(rndA)
		return nil, err
	}

	ti, rndACheck, err := hs.step2(ctx, eng, key, rndA, rndB, existingTI)
	if err != nil {
		dcrypto.Zero(rndA)
		dcrypto.Zero(rndB)
		return nil, err
	}

	if subtle.ConstantTimeCompare(rndACheck, rndA) != 1 {
		dcrypto.Zero(rndA)
		dcrypto.Zero(rndB)
		return nil, deferr.New(deferr.KindAuthFailed)
	}

	result := hs.deriveSession(key, rndA, rndB, ti)
	result.Mode = mode
	result.KeyNo = keyNo

	dcrypto.Zero(rndA)
	dcrypto.Zero(rndB)
	return result, nil
}

var errNoTransactionID = errNoTI{}

type errNoTI struct{}

func (errNoTI) Error() string { return "authstate: EV2NonFirst requires an existing transaction id" }

// rol1 is the rol1(x) primitive from the handshake description; it is
// exported indirectly via dcrypto.RotateLeft1, kept here only as the
// conventional short alias used across this package's handshake files.
func rol1(b []byte) []byte { return dcrypto.RotateLeft1(b) }

func ror1(b []byte) []byte { return dcrypto.RotateRight1(b) }
