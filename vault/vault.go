// Package vault is a reference key-storage implementation satisfying
// the "get_key(appId, keyNo) -> (bytes, KeyType)" contract the core
// consumes: AES-256-GCM with a password-derived master key and a
// random 12-byte nonce per on-disk entry. The wire format and the
// crypto operations used to build it are the only things this package
// owns; the core never sees a key until GetKey hands one back.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/barnettlynn/desfire/dcrypto"
	"github.com/barnettlynn/desfire/deferr"
	"github.com/barnettlynn/desfire/picc"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen       = 16
	nonceLen      = 12
	pbkdf2Iters   = 200000
	masterKeyLen  = 32
	fileMode      = 0o600
	dirMode       = 0o700
	currentFormat = 1
)

// entry is one key slot's plaintext, marshaled and then sealed inside
// the per-file AES-256-GCM envelope.
type entry struct {
	KeyHex     string       `json:"key"`
	KeyType    picc.KeyType `json:"key_type"`
	KeyVersion byte         `json:"key_version"`
}

// onDisk is the full envelope written to each key file: the format
// version and PBKDF2 salt travel alongside the ciphertext so GetKey
// can re-derive the same master key without a side channel.
type onDisk struct {
	Version int    `json:"version"`
	Salt    string `json:"salt"`
	Nonce   string `json:"nonce"`
	Cipher  string `json:"cipher"`
}

// Vault stores DESFire application keys at rest, one file per
// (appID, keyNo) under a root directory, each independently encrypted
// under a master key derived from a caller-supplied password.
type Vault struct {
	root     string
	password []byte

	mu    sync.Mutex
	cache map[string][]byte // never written: GetKey and PutKey derive the master key afresh on every call; Close zeroizes whatever it holds
}

// Open returns a Vault rooted at dir, deriving keys with password on
// demand. The password is copied; the caller may zero its own copy
// once Open returns.
func Open(dir string, password []byte) (*Vault, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, deferr.Wrap(deferr.KindNotFound, 0, 0, err)
	}
	return &Vault{
		root:     dir,
		password: append([]byte(nil), password...),
		cache:    make(map[string][]byte),
	}, nil
}

// Close zeroizes the password held in memory. The Vault must not be
// used afterward.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	dcrypto.Zero(v.password)
	for k, mk := range v.cache {
		dcrypto.Zero(mk)
		delete(v.cache, k)
	}
}

func (v *Vault) path(appID picc.AID, keyNo byte) string {
	return filepath.Join(v.root, filepath.Clean(keyFileName(appID, keyNo)))
}

func keyFileName(appID picc.AID, keyNo byte) string {
	le := appID.LE()
	return hex.EncodeToString(le[:]) + "_" + hex.EncodeToString([]byte{keyNo}) + ".key"
}

// GetKey implements the vault contract: it reads, decrypts, and
// returns an owned copy of the key bytes for (appID, keyNo) along with
// the cipher family the caller must use to authenticate with it. The
// returned key is never logged; callers should dcrypto.Zero it once
// done.
func (v *Vault) GetKey(_ context.Context, appID picc.AID, keyNo byte) ([]byte, picc.KeyType, byte, error) {
	raw, err := os.ReadFile(v.path(appID, keyNo))
	if err != nil {
		return nil, 0, 0, deferr.Wrap(deferr.KindNotFound, 0, 0, err)
	}

	var rec onDisk
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, 0, 0, deferr.Wrap(deferr.KindIntegrityError, 0, 0, err)
	}
	if rec.Version != currentFormat {
		return nil, 0, 0, deferr.Wrap(deferr.KindIntegrityError, 0, 0, errUnknownFormat{rec.Version})
	}

	salt, err := hex.DecodeString(rec.Salt)
	if err != nil {
		return nil, 0, 0, deferr.Wrap(deferr.KindIntegrityError, 0, 0, err)
	}
	nonce, err := hex.DecodeString(rec.Nonce)
	if err != nil || len(nonce) != nonceLen {
		return nil, 0, 0, deferr.Wrap(deferr.KindIntegrityError, 0, 0, err)
	}
	sealed, err := hex.DecodeString(rec.Cipher)
	if err != nil {
		return nil, 0, 0, deferr.Wrap(deferr.KindIntegrityError, 0, 0, err)
	}

	masterKey := v.deriveMasterKey(salt)
	defer dcrypto.Zero(masterKey)

	plain, err := openGCM(masterKey, nonce, sealed)
	if err != nil {
		return nil, 0, 0, deferr.Wrap(deferr.KindIntegrityError, 0, 0, err)
	}
	defer dcrypto.Zero(plain)

	var e entry
	if err := json.Unmarshal(plain, &e); err != nil {
		return nil, 0, 0, deferr.Wrap(deferr.KindIntegrityError, 0, 0, err)
	}
	key, err := hex.DecodeString(e.KeyHex)
	if err != nil {
		return nil, 0, 0, deferr.Wrap(deferr.KindIntegrityError, 0, 0, err)
	}
	return key, e.KeyType, e.KeyVersion, nil
}

// PutKey writes or overwrites the key slot for (appID, keyNo). Each
// call picks a fresh salt and nonce; the on-disk bytes never repeat
// across writes even for the same key value.
func (v *Vault) PutKey(_ context.Context, appID picc.AID, keyNo byte, key []byte, kt picc.KeyType, keyVersion byte) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return deferr.Wrap(deferr.KindProtocol, 0, 0, err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return deferr.Wrap(deferr.KindProtocol, 0, 0, err)
	}

	e := entry{KeyHex: hex.EncodeToString(key), KeyType: kt, KeyVersion: keyVersion}
	plain, err := json.Marshal(e)
	if err != nil {
		return deferr.Wrap(deferr.KindProtocol, 0, 0, err)
	}
	defer dcrypto.Zero(plain)

	masterKey := v.deriveMasterKey(salt)
	defer dcrypto.Zero(masterKey)

	sealed, err := sealGCM(masterKey, nonce, plain)
	if err != nil {
		return deferr.Wrap(deferr.KindProtocol, 0, 0, err)
	}

	rec := onDisk{
		Version: currentFormat,
		Salt:    hex.EncodeToString(salt),
		Nonce:   hex.EncodeToString(nonce),
		Cipher:  hex.EncodeToString(sealed),
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return deferr.Wrap(deferr.KindProtocol, 0, 0, err)
	}
	return os.WriteFile(v.path(appID, keyNo), out, fileMode)
}

// deriveMasterKey derives a 32-byte AES key from the vault's password
// and the per-file salt via PBKDF2-HMAC-SHA256. Each file keeps its
// own salt so compromise of one derived key doesn't expose others.
func (v *Vault) deriveMasterKey(salt []byte) []byte {
	return pbkdf2.Key(v.password, salt, pbkdf2Iters, masterKeyLen, sha256.New)
}

func sealGCM(key, nonce, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plain, nil), nil
}

func openGCM(key, nonce, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, sealed, nil)
}

type errUnknownFormat struct{ version int }

func (e errUnknownFormat) Error() string { return "vault: unsupported on-disk format version" }

