package authstate

import (
	"context"

	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/transmit"
)

// handshake is the per-mode functor referenced by §9's polymorphism
// note: block size, cipher, preamble parsing and key derivation all
// live behind this interface, selected once by Mode and never
// branched on again.
type handshake interface {
	blockSize() int
	opcode() byte

	// step1 sends the AuthBegin command and returns the decrypted
	// RndB challenge.
	step1(ctx context.Context, eng *transmit.Engine, key []byte, keyNo byte) (rndB []byte, err error)

	// step2 builds and sends the RndA challenge, then decrypts the
	// card's response and rotates it back so the result is directly
	// comparable to rndA. It also returns the transaction id when the
	// mode produces one (EV2First/EV2NonFirst), or nil otherwise.
	step2(ctx context.Context, eng *transmit.Engine, key, rndA, rndB, existingTI []byte) (ti, rndACheck []byte, err error)

	// deriveSession computes the session keys (if any) for the mode.
	deriveSession(key, rndA, rndB, ti []byte) *Result
}

func handshakeFor(mode Mode) (handshake, error) {
	switch mode {
	case ModeLegacyDES:
		return &legacyHandshake{}, nil
	case ModeAES:
		return &aesHandshake{}, nil
	case ModeEV2First:
		return &ev2Handshake{first: true}, nil
	case ModeEV2NonFirst:
		return &ev2Handshake{first: false}, nil
	default:
		return nil, deferr.Wrap(deferr.KindIllegalCommand, 0, 0, errUnsupportedMode{mode})
	}
}

type errUnsupportedMode struct{ mode Mode }

func (e errUnsupportedMode) Error() string {
	return "authstate: unsupported authentication mode " + e.mode.String()
}
