// Package picc implements the application and file operations that
// sit on top of an authenticated (or anonymous, for PICC-level
// commands) transmit.Engine: select/create applications, create/read/
// write files, and the value-file credit/debit/commit/abort cycle.
package picc

import (
	"context"

	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/transmit"
)

// Opcode values for the operations in this package.
const (
	OpcodeGetVersion         = 0x60
	OpcodeGetApplicationIDs  = 0x6A
	OpcodeCreateApplication  = 0xCA
	OpcodeSelectApplication  = 0x5A
	OpcodeCreateStdDataFile  = 0xCD
	OpcodeCreateBackupFile   = 0xCB
	OpcodeCreateValueFile    = 0xCC
	OpcodeReadData           = 0xBD
	OpcodeWriteData          = 0x3D
	OpcodeGetValue           = 0x6C
	OpcodeCredit             = 0x0C
	OpcodeDebit              = 0xDC
	OpcodeLimitedCredit      = 0x1C
	OpcodeCommitTransaction  = 0xC7
	OpcodeAbortTransaction   = 0xA7
	OpcodeGetKeySettings     = 0x45
	OpcodeFormatPICC         = 0xFC
	OpcodeGetFreeMemory      = 0x6E
	OpcodeGetFileSettings    = 0xF5
	OpcodeChangeFileSettings = 0x5F
)

// AID is a 24-bit DESFire application identifier. 0x000000 denotes the
// card-level PICC.
type AID uint32

// LE returns the AID as three little-endian bytes.
func (a AID) LE() []byte {
	return []byte{byte(a), byte(a >> 8), byte(a >> 16)}
}

func aidFromLE(b []byte) AID {
	return AID(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
}

// AccessRights packs the four 4-bit access fields DESFire uses for
// every file and key slot: Read, Write, ReadWrite, ChangeAccessRights.
// A nibble value of 0..13 names a key number, 0xE means free access,
// 0xF means denied.
type AccessRights struct {
	Read, Write, ReadWrite, ChangeAccessRights byte
}

// Bytes packs the access rights into the two-byte wire format: byte0
// high nibble = Read, byte0 low nibble = Write, byte1 high nibble =
// ReadWrite, byte1 low nibble = ChangeAccessRights.
func (ar AccessRights) Bytes() [2]byte {
	return [2]byte{
		(ar.Read << 4) | (ar.Write & 0x0F),
		(ar.ReadWrite << 4) | (ar.ChangeAccessRights & 0x0F),
	}
}

func parseAccessRights(b0, b1 byte) AccessRights {
	return AccessRights{
		Read:               b0 >> 4,
		Write:              b0 & 0x0F,
		ReadWrite:          b1 >> 4,
		ChangeAccessRights: b1 & 0x0F,
	}
}

func doSimple(ctx context.Context, eng *transmit.Engine, ins byte, data []byte) error {
	resp, err := eng.Do(ctx, ins, data)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return nil
}

// VersionInfo is GetVersion's three concatenated 7-byte blocks:
// hardware info, software info, and UID/batch info.
type VersionInfo struct {
	Hardware [7]byte
	Software [7]byte
	UID      [7]byte
}

// GetVersion implements opcode 0x60: issue, collect continuations, and
// concatenate the three 7-byte blocks.
func GetVersion(ctx context.Context, eng *transmit.Engine) (*VersionInfo, error) {
	data, _, err := eng.DoChained(ctx, OpcodeGetVersion, nil)
	if err != nil {
		return nil, err
	}
	if len(data) < 21 {
		return nil, deferr.Wrap(deferr.KindLengthMismatch, 0, 0, nil)
	}
	v := &VersionInfo{}
	copy(v.Hardware[:], data[0:7])
	copy(v.Software[:], data[7:14])
	copy(v.UID[:], data[14:21])
	return v, nil
}

// GetApplicationIDs implements opcode 0x6A: the response is a
// concatenation of 3-byte little-endian AIDs.
func GetApplicationIDs(ctx context.Context, eng *transmit.Engine) ([]AID, error) {
	data, _, err := eng.DoChained(ctx, OpcodeGetApplicationIDs, nil)
	if err != nil {
		return nil, err
	}
	if len(data)%3 != 0 {
		return nil, deferr.Wrap(deferr.KindLengthMismatch, 0, 0, nil)
	}
	aids := make([]AID, 0, len(data)/3)
	for i := 0; i < len(data); i += 3 {
		aids = append(aids, aidFromLE(data[i:i+3]))
	}
	return aids, nil
}

// KeyType names the cipher family an application's keys use.
type KeyType byte

const (
	KeyTypeDES KeyType = 0x00
	KeyTypeAES KeyType = 0x80
)

// CreateApplication implements opcode 0xCA.
func CreateApplication(ctx context.Context, eng *transmit.Engine, aid AID, keySettings byte, numKeys byte, keyType KeyType) error {
	data := append(append([]byte{}, aid.LE()...), keySettings, numKeys|byte(keyType))
	return doSimple(ctx, eng, OpcodeCreateApplication, data)
}

// SelectApplication implements opcode 0x5A. Callers must clear any
// held session.Session on success, per §3's invariant that selecting
// an application unconditionally resets session state.
func SelectApplication(ctx context.Context, eng *transmit.Engine, aid AID) error {
	return doSimple(ctx, eng, OpcodeSelectApplication, aid.LE())
}

// CreateStdDataFile implements opcode 0xCD.
func CreateStdDataFile(ctx context.Context, eng *transmit.Engine, fileNo, commSettings byte, ar AccessRights, fileSize int) error {
	arb := ar.Bytes()
	data := []byte{fileNo, commSettings, arb[0], arb[1]}
	data = append(data, u24le(uint32(fileSize))...)
	return doSimple(ctx, eng, OpcodeCreateStdDataFile, data)
}

// CreateBackupDataFile implements opcode 0xCB.
func CreateBackupDataFile(ctx context.Context, eng *transmit.Engine, fileNo, commSettings byte, ar AccessRights, fileSize int) error {
	arb := ar.Bytes()
	data := []byte{fileNo, commSettings, arb[0], arb[1]}
	data = append(data, u24le(uint32(fileSize))...)
	return doSimple(ctx, eng, OpcodeCreateBackupFile, data)
}

// CreateValueFile implements opcode 0xCC.
func CreateValueFile(ctx context.Context, eng *transmit.Engine, fileNo, commSettings byte, ar AccessRights, lower, upper, value int32, limitedCreditEnabled bool) error {
	arb := ar.Bytes()
	data := []byte{fileNo, commSettings, arb[0], arb[1]}
	data = append(data, i32le(lower)...)
	data = append(data, i32le(upper)...)
	data = append(data, i32le(value)...)
	lc := byte(0x00)
	if limitedCreditEnabled {
		lc = 0x01
	}
	data = append(data, lc)
	return doSimple(ctx, eng, OpcodeCreateValueFile, data)
}

// ReadData implements opcode 0xBD, transparently reassembling
// continuation frames.
func ReadData(ctx context.Context, eng *transmit.Engine, fileNo byte, offset, length int) ([]byte, error) {
	data := []byte{fileNo}
	data = append(data, u24le(uint32(offset))...)
	data = append(data, u24le(uint32(length))...)
	out, _, err := eng.DoChained(ctx, OpcodeReadData, data)
	return out, err
}

// WriteData implements opcode 0x3D: fileNo ‖ offset(3 LE) ‖ length(3
// LE) ‖ chunk, chunked via the transmit engine's conservative per-frame
// budget.
func WriteData(ctx context.Context, eng *transmit.Engine, fileNo byte, offset int, data []byte) error {
	header := []byte{fileNo}
	header = append(header, u24le(uint32(offset))...)
	header = append(header, u24le(uint32(len(data)))...)
	resp, err := eng.WriteChained(ctx, OpcodeWriteData, header, data)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return nil
}

// GetValue implements opcode 0x6C, decoding the 4-byte signed
// little-endian value.
func GetValue(ctx context.Context, eng *transmit.Engine, fileNo byte) (int32, error) {
	resp, err := eng.Do(ctx, OpcodeGetValue, []byte{fileNo})
	if err != nil {
		return 0, err
	}
	if !resp.IsSuccess() || len(resp.Data) < 4 {
		return 0, deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return decodeI32le(resp.Data), nil
}

// Credit implements opcode 0x0C. Requires a subsequent CommitTransaction.
func Credit(ctx context.Context, eng *transmit.Engine, fileNo byte, amount int32) error {
	return doSimple(ctx, eng, OpcodeCredit, append([]byte{fileNo}, i32le(amount)...))
}

// Debit implements opcode 0xDC. Requires a subsequent CommitTransaction.
func Debit(ctx context.Context, eng *transmit.Engine, fileNo byte, amount int32) error {
	return doSimple(ctx, eng, OpcodeDebit, append([]byte{fileNo}, i32le(amount)...))
}

// LimitedCredit implements opcode 0x1C. Requires a subsequent CommitTransaction.
func LimitedCredit(ctx context.Context, eng *transmit.Engine, fileNo byte, amount int32) error {
	return doSimple(ctx, eng, OpcodeLimitedCredit, append([]byte{fileNo}, i32le(amount)...))
}

// CommitTransaction implements opcode 0xC7, persisting any pending
// Credit/Debit/LimitedCredit.
func CommitTransaction(ctx context.Context, eng *transmit.Engine) error {
	return doSimple(ctx, eng, OpcodeCommitTransaction, nil)
}

// AbortTransaction implements opcode 0xA7, rolling back any pending
// Credit/Debit/LimitedCredit.
func AbortTransaction(ctx context.Context, eng *transmit.Engine) error {
	return doSimple(ctx, eng, OpcodeAbortTransaction, nil)
}

// KeySettings is GetKeySettings' decoded response: the raw settings
// byte plus the packed max-keys/key-type byte split into its fields.
type KeySettings struct {
	ConfigurationChangeable bool
	FreeCreateDelete        bool
	FreeDirectory           bool
	AllowKeyChange          bool
	MaxKeys                 byte
	KeyType                 KeyType
}

// GetKeySettings implements opcode 0x45: returns the settings byte and
// a packed byte (maxKeys = lower 6 bits, keyType = upper 2 bits, where
// 0x80 denotes AES).
func GetKeySettings(ctx context.Context, eng *transmit.Engine) (*KeySettings, error) {
	resp, err := eng.Do(ctx, OpcodeGetKeySettings, nil)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() || len(resp.Data) < 2 {
		return nil, deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	settings := resp.Data[0]
	packed := resp.Data[1]
	kt := KeyTypeDES
	if packed&0x80 != 0 {
		kt = KeyTypeAES
	}
	return &KeySettings{
		ConfigurationChangeable: settings&0x08 != 0,
		FreeCreateDelete:        settings&0x04 != 0,
		FreeDirectory:           settings&0x02 != 0,
		AllowKeyChange:          settings&0x01 != 0,
		MaxKeys:                 packed & 0x3F,
		KeyType:                 kt,
	}, nil
}

// FormatPICC implements opcode 0xFC, erasing all applications.
// Requires PICC-level authentication.
func FormatPICC(ctx context.Context, eng *transmit.Engine) error {
	return doSimple(ctx, eng, OpcodeFormatPICC, nil)
}

// GetFreeMemory implements opcode 0x6E, returning the 3-byte
// little-endian free-memory count.
func GetFreeMemory(ctx context.Context, eng *transmit.Engine) (uint32, error) {
	resp, err := eng.Do(ctx, OpcodeGetFreeMemory, nil)
	if err != nil {
		return 0, err
	}
	if !resp.IsSuccess() || len(resp.Data) < 3 {
		return 0, deferr.Wrap(deferr.Classify(resp.SW1, resp.SW2), resp.SW1, resp.SW2, nil)
	}
	return uint32(resp.Data[0]) | uint32(resp.Data[1])<<8 | uint32(resp.Data[2])<<16, nil
}

func u24le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

func i32le(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

func decodeI32le(b []byte) int32 {
	return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}
