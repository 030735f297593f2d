// Package escape wraps a transport.Reader so that DESFire APDUs which
// get no usable response over the reader's transparent ISO 7816
// channel can be retried over a PN532-style CCID escape channel, as
// used by ACR122U-class readers.
//
// No reference driver in this codebase's lineage implements this
// framing directly (PC/SC vendors rarely need it); the three wrapping
// forms below come straight from the wire protocol this module
// targets, not from an existing Go implementation.
package escape

import (
	"bytes"
	"context"
	"fmt"

	"github.com/barnettlynn/desfire/transport"
)

// Reader decorates an underlying transport.Reader, retrying a failed
// or empty transmit over the PC/SC escape command (FF 00 00 00 Lc
// payload), trying in order: the raw APDU, PN532 InDataExchange
// (D4 40 01 ‖ APDU), and PN532 InCommunicateThru (D4 42 ‖ APDU).
type Reader struct {
	Underlying transport.Reader
	Escaper    func(ctx context.Context, req []byte) ([]byte, error)
}

// New wraps underlying with an escape fallback driven by escaper, the
// reader's raw escape-channel transmit function.
func New(underlying transport.Reader, escaper func(ctx context.Context, req []byte) ([]byte, error)) *Reader {
	return &Reader{Underlying: underlying, Escaper: escaper}
}

// Transmit implements transport.Reader, trying the underlying
// transport first and falling back to escape framing only when that
// returns an error or a response too short to carry a status word.
func (r *Reader) Transmit(ctx context.Context, req []byte) ([]byte, error) {
	resp, err := r.Underlying.Transmit(ctx, req)
	if err == nil && len(resp) >= 2 {
		return resp, nil
	}
	return r.Escape(ctx, req)
}

// Escape implements transport.EscapeCapable directly, trying the three
// wrapping forms in order and returning the first usable response.
func (r *Reader) Escape(ctx context.Context, apdu []byte) ([]byte, error) {
	candidates := [][]byte{
		apdu,
		append([]byte{0xD4, 0x40, 0x01}, apdu...),
		append([]byte{0xD4, 0x42}, apdu...),
	}
	var lastErr error
	for _, payload := range candidates {
		wrapped, err := wrapEscape(payload)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := r.Escaper(ctx, wrapped)
		if err != nil {
			lastErr = err
			continue
		}
		if out, ok := unwrapEscapeResponse(resp); ok {
			return out, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("escape: no candidate framing produced a usable response")
	}
	return nil, lastErr
}

// wrapEscape builds the CCID escape command FF 00 00 00 Lc payload.
func wrapEscape(payload []byte) ([]byte, error) {
	if len(payload) > 255 {
		return nil, fmt.Errorf("escape: payload too long (%d bytes)", len(payload))
	}
	out := make([]byte, 0, 5+len(payload))
	out = append(out, 0xFF, 0x00, 0x00, 0x00, byte(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// unwrapEscapeResponse strips a PN532 D5 41/D5 43 positive response's
// full preamble if present — the 2-byte command code plus the 1-byte
// status that follows it (D5 41 00 <cardResponse>) — otherwise returns
// the response unchanged (covers readers that pass a bare APDU
// response straight through the escape channel).
func unwrapEscapeResponse(resp []byte) ([]byte, bool) {
	if len(resp) < 2 {
		return nil, false
	}
	if len(resp) >= 4 && bytes.HasPrefix(resp, []byte{0xD5, 0x41}) {
		return resp[3:], true
	}
	if len(resp) >= 4 && bytes.HasPrefix(resp, []byte{0xD5, 0x43}) {
		return resp[3:], true
	}
	return resp, true
}
