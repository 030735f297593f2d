package authstate

import (
	"context"

	"github.com/barnettlynn/desfire/apdu"
	"github.com/barnettlynn/desfire/dcrypto"
	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/transmit"
)

// aesHandshake implements opcode 0xAA: AES-128 CBC with IV=0
// throughout, and byte-splicing (not CMAC) session key derivation.
type aesHandshake struct{}

func (*aesHandshake) blockSize() int { return 16 }
func (*aesHandshake) opcode() byte   { return OpcodeAES }

func (*aesHandshake) step1(ctx context.Context, eng *transmit.Engine, key []byte, keyNo byte) ([]byte, error) {
	resp, err := eng.Do(ctx, OpcodeAES, []byte{keyNo})
	if err != nil {
		return nil, err
	}
	if !resp.IsContinuation() || len(resp.Data) != 16 {
		return nil, deferr.Wrap(deferr.KindAuthFailed, resp.SW1, resp.SW2, nil)
	}
	iv0 := make([]byte, 16)
	return dcrypto.AESCBCDecrypt(key, iv0, resp.Data)
}

func (*aesHandshake) step2(ctx context.Context, eng *transmit.Engine, key, rndA, rndB, _ []byte) ([]byte, []byte, error) {
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
	if !resp.IsSuccess() || len(resp.Data) != 16 {
		return nil, nil, deferr.Wrap(deferr.KindAuthFailed, resp.SW1, resp.SW2, nil)
	}

	decrypted, err := dcrypto.AESCBCDecrypt(key, iv0, resp.Data)
	if err != nil {
		return nil, nil, err
	}
	return nil, ror1(decrypted), nil
}

// deriveSession splices the session keys directly from RndA/RndB bytes
// rather than running them through CMAC — this is the "simplified"
// derivation the real card firmware actually uses for the legacy AES
// handshake (0xAA), distinct from EV2First's CMAC-based SV1/SV2.
func (*aesHandshake) deriveSession(_, rndA, rndB, _ []byte) *Result {
	enc := make([]byte, 16)
	copy(enc[0:4], rndA[0:4])
	copy(enc[4:8], rndB[0:4])
	copy(enc[8:12], rndA[12:16])
	copy(enc[12:16], rndB[12:16])

	mac := make([]byte, 16)
	copy(mac[0:4], rndA[4:8])
	copy(mac[4:8], rndB[4:8])
	copy(mac[8:12], rndA[8:12])
	copy(mac[12:16], rndB[8:12])

	return &Result{SessionEncKey: enc, SessionMACKey: mac}
}
