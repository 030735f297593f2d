package authstate

import (
	"context"

	"github.com/barnettlynn/desfire/apdu"
	"github.com/barnettlynn/desfire/dcrypto"
	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/transmit"
)

// ev2Handshake implements opcodes 0x71 (EV2First) and 0x77
// (EV2NonFirst). The two share everything except the AuthBegin opcode
// and whether the card's second response carries a fresh TI: EV2First
// establishes one, EV2NonFirst reuses the caller-supplied one.
type ev2Handshake struct {
	first bool
}

func (*ev2Handshake) blockSize() int { return 16 }

func (h *ev2Handshake) opcode() byte {
	if h.first {
		return OpcodeEV2First
	}
	return OpcodeEV2NonFirst
}

func (h *ev2Handshake) step1(ctx context.Context, eng *transmit.Engine, key []byte, keyNo byte) ([]byte, error) {
	// PCDcap2 = 0x0000, sent regardless of first/non-first.
	resp, err := eng.Do(ctx, h.opcode(), []byte{keyNo, 0x00, 0x00})
	if err != nil {
		return nil, err
	}
	if !resp.IsContinuation() || len(resp.Data) != 16 {
		return nil, deferr.Wrap(deferr.KindAuthFailed, resp.SW1, resp.SW2, nil)
	}
	iv0 := make([]byte, 16)
	return dcrypto.AESCBCDecrypt(key, iv0, resp.Data)
}

func (h *ev2Handshake) step2(ctx context.Context, eng *transmit.Engine, key, rndA, rndB, existingTI []byte) ([]byte, []byte, error) {
	iv0 := make([]byte, 16)
	challenge := append(append([]byte(nil), rndA...), rol1(rndB)...)
	ciphertext, err := dcrypto.AESCBCEncrypt(key, iv0, challenge)
	if err != nil {
		return nil, nil, err
	}

	resp, err := eng.Do(ctx, apdu.OpcodeAdditionalFrame, ciphertext)
	if err != nil {
		return nil, nil, err
	}
	if !resp.IsSuccess() {
		return nil, nil, deferr.Wrap(deferr.KindAuthFailed, resp.SW1, resp.SW2, nil)
	}

	if h.first {
		// TI(4) || EncRndAPrime(16) [|| PDcap2(6)], TI in the clear.
		if len(resp.Data) < 20 {
			return nil, nil, deferr.Wrap(deferr.KindAuthFailed, resp.SW1, resp.SW2, nil)
		}
		ti := append([]byte(nil), resp.Data[:4]...)
		decrypted, err := dcrypto.AESCBCDecrypt(key, iv0, resp.Data[4:20])
		if err != nil {
			return nil, nil, err
		}
		return ti, ror1(decrypted), nil
	}

	// EV2NonFirst: the card's response omits the TI prefix, reusing
	// existingTI.
	if len(resp.Data) < 16 {
		return nil, nil, deferr.Wrap(deferr.KindAuthFailed, resp.SW1, resp.SW2, nil)
	}
	decrypted, err := dcrypto.AESCBCDecrypt(key, iv0, resp.Data[:16])
	if err != nil {
		return nil, nil, err
	}
	return existingTI, ror1(decrypted), nil
}

// deriveSession computes SV1/SV2 per the literal byte layout this
// module specifies (a 16-byte CMAC input per vector, not the full
// 32-byte NXP session-vector construction): each vector is the fixed
// 6-byte label, 2 bytes of RndA, 2 bytes of RndB, then the final 3
// bytes of RndA and RndB.
func (*ev2Handshake) deriveSession(key, rndA, rndB, ti []byte) *Result {
	sv1 := buildSessionVector(0xA5, 0x5A, rndA, rndB)
	sv2 := buildSessionVector(0x5A, 0xA5, rndA, rndB)

	enc, _ := dcrypto.AESCMAC(key, sv1)
	mac, _ := dcrypto.AESCMAC(key, sv2)

	return &Result{
		SessionEncKey: enc,
		SessionMACKey: mac,
		TransactionID: append([]byte(nil), ti...),
	}
}

// buildSessionVector assembles the 16-byte SV1/SV2 CMAC input:
// b0 b1 00 01 00 80 ‖ RndA[0:2] ‖ RndB[0:2] ‖ RndA[13:16] ‖ RndB[13:16].
func buildSessionVector(b0, b1 byte, rndA, rndB []byte) []byte {
	sv := make([]byte, 0, 16)
	sv = append(sv, b0, b1, 0x00, 0x01, 0x00, 0x80)
	sv = append(sv, rndA[0:2]...)
	sv = append(sv, rndB[0:2]...)
	sv = append(sv, rndA[13:16]...)
	sv = append(sv, rndB[13:16]...)
	return sv
}
