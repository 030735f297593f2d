package vault

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/barnettlynn/desfire/picc"
)

func TestPutKeyThenGetKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir, []byte("correct horse battery staple"))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	aid := picc.AID(0x112233)
	key := bytes.Repeat([]byte{0x42}, 16)

	ctx := context.Background()
	if err := v.PutKey(ctx, aid, 0x01, key, picc.KeyTypeAES, 0x03); err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	got, kt, ver, err := v.GetKey(ctx, aid, 0x01)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Errorf("key = % X, want % X", got, key)
	}
	if kt != picc.KeyTypeAES {
		t.Errorf("key type = %v, want AES", kt)
	}
	if ver != 0x03 {
		t.Errorf("version = %X, want 3", ver)
	}
}

func TestGetKeyWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	aid := picc.AID(0xAABBCC)

	v1, err := Open(dir, []byte("right-password"))
	if err != nil {
		t.Fatal(err)
	}
	if err := v1.PutKey(ctx, aid, 0x00, bytes.Repeat([]byte{0x01}, 16), picc.KeyTypeDES, 0x00); err != nil {
		t.Fatal(err)
	}
	v1.Close()

	v2, err := Open(dir, []byte("wrong-password"))
	if err != nil {
		t.Fatal(err)
	}
	defer v2.Close()

	if _, _, _, err := v2.GetKey(ctx, aid, 0x00); err == nil {
		t.Fatal("expected GetKey to fail under the wrong password")
	}
}

func TestGetKeyMissingSlot(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir, []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if _, _, _, err := v.GetKey(context.Background(), picc.AID(0x000001), 0x05); err == nil {
		t.Fatal("expected GetKey to fail for an unwritten slot")
	}
}

func TestTwoWritesOfSameKeyProduceDifferentCiphertext(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir, []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	aid := picc.AID(0x010203)
	key := bytes.Repeat([]byte{0x99}, 16)
	ctx := context.Background()

	if err := v.PutKey(ctx, aid, 0x02, key, picc.KeyTypeAES, 0x00); err != nil {
		t.Fatal(err)
	}
	first, err := readRaw(v, aid, 0x02)
	if err != nil {
		t.Fatal(err)
	}

	if err := v.PutKey(ctx, aid, 0x02, key, picc.KeyTypeAES, 0x00); err != nil {
		t.Fatal(err)
	}
	second, err := readRaw(v, aid, 0x02)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(first, second) {
		t.Fatal("rewriting the same key produced identical on-disk bytes; nonce/salt reuse")
	}

	got, _, _, err := v.GetKey(ctx, aid, 0x02)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, key) {
		t.Errorf("key after rewrite = % X, want % X", got, key)
	}
}

func readRaw(v *Vault, aid picc.AID, keyNo byte) ([]byte, error) {
	return os.ReadFile(v.path(aid, keyNo))
}
