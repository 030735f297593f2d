package authstate

import (
	"context"

	"github.com/barnettlynn/desfire/apdu"
	"github.com/barnettlynn/desfire/dcrypto"
	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/transmit"
)

// legacyHandshake implements opcode 0x0A: 2TDEA/3TDEA CBC, 8-byte
// blocks, no session keys derived. Unlike AES/EV2First this mode
// chains IVs across the two steps (classic ISO 9798-2 style), so it
// carries state between step1 and step2.
type legacyHandshake struct {
	encRndB []byte // the raw ciphertext received in step1, becomes the IV for step2's encryption
}

func (*legacyHandshake) blockSize() int { return 8 }
func (*legacyHandshake) opcode() byte   { return OpcodeLegacyDES }

func (h *legacyHandshake) step1(ctx context.Context, eng *transmit.Engine, key []byte, keyNo byte) ([]byte, error) {
	resp, err := eng.Do(ctx, OpcodeLegacyDES, []byte{keyNo})
	if err != nil {
		return nil, err
	}
	if !resp.IsContinuation() || len(resp.Data) != 8 {
		return nil, deferr.Wrap(deferr.KindAuthFailed, resp.SW1, resp.SW2, nil)
	}
	h.encRndB = append([]byte(nil), resp.Data...)

	iv0 := make([]byte, 8)
	return dcrypto.TDESCBCDecrypt(key, iv0, resp.Data)
}

func (h *legacyHandshake) step2(ctx context.Context, eng *transmit.Engine, key, rndA, rndB, _ []byte) ([]byte, []byte, error) {
	challenge := append(append([]byte(nil), rndA...), rol1(rndB)...)
	ciphertext, err := dcrypto.TDESCBCEncrypt(key, h.encRndB, challenge)
	if err != nil {
		return nil, nil, err
	}

	resp, err := eng.Do(ctx, apdu.OpcodeAdditionalFrame, ciphertext)
	if err != nil {
		return nil, nil, err
	}
	if !resp.IsSuccess() || len(resp.Data) != 8 {
		return nil, nil, deferr.Wrap(deferr.KindAuthFailed, resp.SW1, resp.SW2, nil)
	}

	lastSentBlock := ciphertext[len(ciphertext)-8:]
	decrypted, err := dcrypto.TDESCBCDecrypt(key, lastSentBlock, resp.Data)
	if err != nil {
		return nil, nil, err
	}
	return nil, ror1(decrypted), nil
}

func (*legacyHandshake) deriveSession(_, _, _, _ []byte) *Result {
	return &Result{}
}
