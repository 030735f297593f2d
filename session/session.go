// Package session holds the post-authentication session state — the
// fields spec'd as "authenticated, key_no, session keys, transaction
// id, command counter" — and the secure key-change operations that
// depend on it (ChangeKeyEV2, legacy ChangeKey, key-set rollover).
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/barnettlynn/desfire/authstate"
	"github.com/barnettlynn/desfire/dcrypto"
	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/transmit"
)

// Opcode values for the operations in this package.
const (
	OpcodeChangeKeyEV2     = 0xC6
	OpcodeChangeKeyLegacy  = 0xC4
	OpcodeInitializeKeySet = 0x56
	OpcodeRollKeySet       = 0x55
	OpcodeFinalizeKeySet   = 0x57
	OpcodeGetKeyVersion    = 0x64
)

// ErrSessionBusy is returned when a Session method is called while
// another is already in flight on the same Session — the caller must
// serialize its own card I/O, this only catches the misuse.
var ErrSessionBusy = deferr.Wrap(deferr.KindProtocol, 0, 0, errBusy{})

type errBusy struct{}

func (errBusy) Error() string { return "session: concurrent use of the same session" }

// ErrUnsupportedForAuthMode is returned by ChangeKeyEV2 when the
// session was established via the legacy AES handshake (0xAA), which
// derives byte-spliced keys rather than the CMAC session keys
// ChangeKeyEV2's envelope requires.
var ErrUnsupportedForAuthMode = deferr.Wrap(deferr.KindIllegalCommand, 0, 0, errUnsupportedMode{})

type errUnsupportedMode struct{}

func (errUnsupportedMode) Error() string {
	return "session: ChangeKeyEV2 is only defined for EV2First/EV2NonFirst sessions"
}

// Session is the live state resulting from a successful authstate.Authenticate.
type Session struct {
	Authenticated bool
	Mode          authstate.Mode
	KeyNo         byte

	SessionEncKey []byte // 16 bytes, nil for legacy DES
	SessionMACKey []byte // 16 bytes, nil for legacy DES

	TransactionID  []byte // 4 bytes, EV2 only
	CommandCounter uint16 // EV2 only; begins at 0 after a successful EV2First/NonFirst

	mu sync.Mutex
}

// FromAuthResult builds a Session from a completed handshake.
func FromAuthResult(r *authstate.Result) *Session {
	s := &Session{
		Authenticated:  true,
		Mode:           r.Mode,
		KeyNo:          r.KeyNo,
		SessionEncKey:  append([]byte(nil), r.SessionEncKey...),
		SessionMACKey:  append([]byte(nil), r.SessionMACKey...),
		TransactionID:  append([]byte(nil), r.TransactionID...),
		CommandCounter: 0,
	}
	return s
}

// Reset clears all session state and zeroizes key material, mirroring
// ResetAuth's effect on the session-state diagram.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	dcrypto.Zero(s.SessionEncKey)
	dcrypto.Zero(s.SessionMACKey)
	s.Authenticated = false
	s.SessionEncKey = nil
	s.SessionMACKey = nil
	s.TransactionID = nil
	s.CommandCounter = 0
}

func (s *Session) lock() (func(), error) {
	if !s.mu.TryLock() {
		return nil, ErrSessionBusy
	}
	return s.mu.Unlock, nil
}

// ChangeKeyEV2 implements opcode 0xC6: build NewKey‖Version, append a
// CRC32 over [0xC6, keyNo]‖plain, pad to 32 bytes with ISO 9797 M2 iff
// not already block-aligned, and encrypt the whole thing under
// session_enc_key with a zero IV. Requires an EV2First/NonFirst
// session; rejects AES-authenticated (byte-spliced-key) sessions with
// ErrUnsupportedForAuthMode per the DESFire EV2 datasheet.
func (s *Session) ChangeKeyEV2(ctx context.Context, eng *transmit.Engine, keyNo byte, newKey []byte, newKeyVersion byte) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if !s.Authenticated || s.Mode == authstate.ModeLegacyDES {
		return deferr.Wrap(deferr.KindPreconditionNotAuthenticated, 0, 0, nil)
	}
	if s.Mode == authstate.ModeAES {
		return ErrUnsupportedForAuthMode
	}
	if len(newKey) != 16 {
		return deferr.Wrap(deferr.KindProtocol, 0, 0, errKeyLength{len(newKey)})
	}

	plain := make([]byte, 0, 17+4)
	plain = append(plain, newKey...)
	plain = append(plain, newKeyVersion)

	crcInput := make([]byte, 0, 2+len(plain))
	crcInput = append(crcInput, OpcodeChangeKeyEV2, keyNo)
	crcInput = append(crcInput, plain...)
	crc := dcrypto.CRC32LE(crcInput)
	plain = append(plain, crc...)

	padded := plain
	if len(plain)%16 != 0 {
		padded = dcrypto.PadISO9797M2(plain, 16)
	}

	iv0 := make([]byte, 16)
	ciphertext, err := dcrypto.AESCBCEncrypt(s.SessionEncKey, iv0, padded)
	if err != nil {
		return err
	}

	data := make([]byte, 0, 1+len(ciphertext))
	data = append(data, keyNo)
	data = append(data, ciphertext...)

	resp, err := eng.Do(ctx, OpcodeChangeKeyEV2, data)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	s.CommandCounter++
	return nil
}

type errKeyLength struct{ n int }

func (e errKeyLength) Error() string {
	return fmt.Sprintf("session: invalid new key length %d", e.n)
}

// ChangeKey implements the legacy ChangeKey (opcode 0xC4): keyNo ‖
// NewKey ‖ Version sent with no session-key encryption. Intended only
// for transitioning out of factory-default keys.
func ChangeKey(ctx context.Context, eng *transmit.Engine, keyNo byte, newKey []byte, newKeyVersion byte) error {
	if len(newKey) != 16 && len(newKey) != 8 && len(newKey) != 24 {
		return deferr.Wrap(deferr.KindProtocol, 0, 0, errKeyLength{len(newKey)})
	}
	data := make([]byte, 0, 2+len(newKey))
	data = append(data, keyNo)
	data = append(data, newKey...)
	data = append(data, newKeyVersion)

	resp, err := eng.Do(ctx, OpcodeChangeKeyLegacy, data)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return nil
}

// InitializeKeySet implements opcode 0x56. Requires an active
// authenticated session.
func (s *Session) InitializeKeySet(ctx context.Context, eng *transmit.Engine, keySetNo, keyType byte) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if !s.Authenticated {
		return deferr.Wrap(deferr.KindPreconditionNotAuthenticated, 0, 0, nil)
	}
	resp, err := eng.Do(ctx, OpcodeInitializeKeySet, []byte{keySetNo, keyType})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return nil
}

// RollKeySet implements opcode 0x55. Requires an active authenticated
// session.
func (s *Session) RollKeySet(ctx context.Context, eng *transmit.Engine, keySetNo byte) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if !s.Authenticated {
		return deferr.Wrap(deferr.KindPreconditionNotAuthenticated, 0, 0, nil)
	}
	resp, err := eng.Do(ctx, OpcodeRollKeySet, []byte{keySetNo})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return nil
}

// FinalizeKeySet implements opcode 0x57. Requires an active
// authenticated session.
func (s *Session) FinalizeKeySet(ctx context.Context, eng *transmit.Engine) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if !s.Authenticated {
		return deferr.Wrap(deferr.KindPreconditionNotAuthenticated, 0, 0, nil)
	}
	resp, err := eng.Do(ctx, OpcodeFinalizeKeySet, nil)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return nil
}

// GetKeyVersion implements the supplemental opcode 0x64, returning the
// single version byte of the named key slot. Exists to make the
// rollover triplet observable in tests without relying on
// ChangeKeyEV2's side effects alone.
func GetKeyVersion(ctx context.Context, eng *transmit.Engine, keyNo byte) (byte, error) {
	resp, err := eng.Do(ctx, OpcodeGetKeyVersion, []byte{keyNo})
	if err != nil {
		return 0, err
	}
	if !resp.IsSuccess() || len(resp.Data) < 1 {
		return 0, deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return resp.Data[0], nil
}
