package dcrypto

import (
	"bytes"
	"crypto/aes"
	"testing"
)

func TestCRC32GoldenVectors(t *testing.T) {
	if got := CRC32(nil); got != 0 {
		t.Errorf("CRC32(empty) = %08X, want 00000000", got)
	}
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("CRC32(\"123456789\") = %08X, want CBF43926", got)
	}
	le := CRC32LE([]byte("123456789"))
	want := []byte{0x26, 0x39, 0xF4, 0xCB}
	if !bytes.Equal(le, want) {
		t.Errorf("CRC32LE(\"123456789\") = % X, want % X", le, want)
	}
}

func TestCRC16GoldenVector(t *testing.T) {
	if got := CRC16([]byte("123456789")); got != 0xBF05 {
		t.Errorf("CRC16(\"123456789\") = %04X, want BF05", got)
	}
	le := CRC16LE([]byte("123456789"))
	want := []byte{0x05, 0xBF}
	if !bytes.Equal(le, want) {
		t.Errorf("CRC16LE(\"123456789\") = % X, want % X", le, want)
	}
}

func TestRotateIdempotenceLaw(t *testing.T) {
	for _, size := range []int{8, 16} {
		x := make([]byte, size)
		for i := range x {
			x[i] = byte(i + 1)
		}
		for n := 1; n <= size*2; n++ {
			got := RotateLeftN(x, n)
			want := rotateLeftNaive(x, n)
			if !bytes.Equal(got, want) {
				t.Errorf("size=%d n=%d: got % X want % X", size, n, got, want)
			}
		}
	}
}

// rotateLeftNaive rotates the whole buffer left by n bytes using
// simple index arithmetic, as an independent check on RotateLeftN.
func rotateLeftNaive(x []byte, n int) []byte {
	l := len(x)
	out := make([]byte, l)
	for i := 0; i < l; i++ {
		out[i] = x[(i+n)%l]
	}
	return out
}

func TestCMACSubkeyInvariant(t *testing.T) {
	key := bytes.Repeat([]byte{0x00}, 16)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	k1, k2 := cmacSubkeys(block)

	derivedK2 := make([]byte, 16)
	LeftShift1(derivedK2, k1)
	if k1[0]&0x80 != 0 {
		derivedK2[15] ^= rb
	}
	if !bytes.Equal(derivedK2, k2) {
		t.Errorf("K2 != leftShift(K1) xor (Rb if msb else 0): got % X want % X", derivedK2, k2)
	}
}

func TestCMACPaddingBranch(t *testing.T) {
	key := bytes.Repeat([]byte{0x2B}, 16)

	// A positive multiple of 16 must XOR the final block with K1 (no
	// padding applied): verify by checking the unpadded-length CMAC
	// differs from what padding would produce if padding were wrongly
	// applied to an aligned message.
	aligned := make([]byte, 32)
	tag1, err := AESCMAC(key, aligned)
	if err != nil {
		t.Fatal(err)
	}
	if len(tag1) != 16 {
		t.Fatalf("CMAC tag length = %d, want 16", len(tag1))
	}

	unaligned := make([]byte, 20)
	tag2, err := AESCMAC(key, unaligned)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(tag1, tag2) {
		t.Error("aligned and padded CMAC inputs should not coincidentally match")
	}
}

func TestPadISO9797M2RoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	padded := PadISO9797M2(data, 16)
	if len(padded)%16 != 0 {
		t.Fatalf("padded length %d not block aligned", len(padded))
	}
	unpadded, err := UnpadISO9797M2(padded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(unpadded, data) {
		t.Errorf("round trip mismatch: got % X want % X", unpadded, data)
	}
}

func TestTruncateOddBytes(t *testing.T) {
	full := make([]byte, 16)
	for i := range full {
		full[i] = byte(i)
	}
	got := TruncateOddBytes(full)
	want := []byte{1, 3, 5, 7, 9, 11, 13, 15}
	if !bytes.Equal(got, want) {
		t.Errorf("TruncateOddBytes = % X, want % X", got, want)
	}
}
