package ndef

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildSDMURIOrdersParamsAndLocatesOffsets(t *testing.T) {
	msg, err := BuildSDMURI("https://example.com/tag")
	if err != nil {
		t.Fatalf("BuildSDMURI: %v", err)
	}
	if !strings.Contains(msg.URL, "uid=00000000000000&ctr=000000&mac=0000000000000000") {
		t.Fatalf("unexpected query order: %s", msg.URL)
	}

	uidField := msg.Bytes[msg.UIDOffset : int(msg.UIDOffset)+sdmUIDLenASCII]
	if !bytes.Equal(uidField, bytes.Repeat([]byte("0"), sdmUIDLenASCII)) {
		t.Errorf("uid placeholder at offset mismatch: %q", uidField)
	}
	ctrField := msg.Bytes[msg.CtrOffset : int(msg.CtrOffset)+sdmCtrLenASCII]
	if !bytes.Equal(ctrField, bytes.Repeat([]byte("0"), sdmCtrLenASCII)) {
		t.Errorf("ctr placeholder at offset mismatch: %q", ctrField)
	}
	macField := msg.Bytes[msg.MacOffset : int(msg.MacOffset)+sdmMacLenASCII]
	if !bytes.Equal(macField, bytes.Repeat([]byte("0"), sdmMacLenASCII)) {
		t.Errorf("mac placeholder at offset mismatch: %q", macField)
	}

	nlen := int(msg.Bytes[0])<<8 | int(msg.Bytes[1])
	if nlen != len(msg.Bytes)-2 {
		t.Errorf("NLEN = %d, want %d", nlen, len(msg.Bytes)-2)
	}
}

func TestBuildSDMURIPrefixCompression(t *testing.T) {
	msg, err := BuildSDMURI("https://www.example.com/x")
	if err != nil {
		t.Fatalf("BuildSDMURI: %v", err)
	}
	if msg.Bytes[6] != 0x02 {
		t.Errorf("prefix code = %02X, want 02 (https://www.)", msg.Bytes[6])
	}
}

func TestBuildSDMURIRejectsRelativeURL(t *testing.T) {
	if _, err := BuildSDMURI("/just/a/path"); err == nil {
		t.Fatal("expected an error for a relative URL")
	}
}

func TestBuildSDMURIPreservesExtraParams(t *testing.T) {
	msg, err := BuildSDMURI("https://example.com/tag?campaign=summer")
	if err != nil {
		t.Fatalf("BuildSDMURI: %v", err)
	}
	if !strings.Contains(msg.URL, "campaign=summer") {
		t.Errorf("expected extra query parameter to survive: %s", msg.URL)
	}
}
