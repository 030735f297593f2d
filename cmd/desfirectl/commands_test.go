package main

import (
	"testing"

	"github.com/barnettlynn/desfire/authstate"
	"github.com/barnettlynn/desfire/picc"
)

func TestParseAID(t *testing.T) {
	cases := []struct {
		in   string
		want picc.AID
	}{
		{"112233", picc.AID(0x112233)},
		{"0x112233", picc.AID(0x112233)},
		{"000000", picc.AID(0)},
	}
	for _, c := range cases {
		got, err := parseAID(c.in)
		if err != nil {
			t.Fatalf("parseAID(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("parseAID(%q) = %06X, want %06X", c.in, uint32(got), uint32(c.want))
		}
	}
}

func TestParseAIDRejectsGarbage(t *testing.T) {
	if _, err := parseAID("not-hex"); err == nil {
		t.Fatal("expected an error for non-hex input")
	}
}

func TestParseHexKey(t *testing.T) {
	got, err := parseHexKey("00112233445566778899aabbccddeef")
	if err == nil {
		t.Fatalf("expected odd-length hex to fail, got %x", got)
	}
	got, err = parseHexKey("000102030405060708090a0b0c0d0e0f")
	if err != nil {
		t.Fatalf("parseHexKey: %v", err)
	}
	if len(got) != 16 {
		t.Errorf("len = %d, want 16", len(got))
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]authstate.Mode{
		"legacy-des":    authstate.ModeLegacyDES,
		"aes":           authstate.ModeAES,
		"ev2-first":     authstate.ModeEV2First,
		"ev2-non-first": authstate.ModeEV2NonFirst,
	}
	for s, want := range cases {
		got, err := parseMode(s)
		if err != nil {
			t.Fatalf("parseMode(%q): %v", s, err)
		}
		if got != want {
			t.Errorf("parseMode(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := parseMode("bogus"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestParseAccessRights(t *testing.T) {
	ar, err := parseAccessRights("0,1,E,F")
	if err != nil {
		t.Fatalf("parseAccessRights: %v", err)
	}
	want := picc.AccessRights{Read: 0x0, Write: 0x1, ReadWrite: 0xE, ChangeAccessRights: 0xF}
	if ar != want {
		t.Errorf("parseAccessRights = %+v, want %+v", ar, want)
	}
}

func TestParseAccessRightsRejectsMalformed(t *testing.T) {
	if _, err := parseAccessRights("nonsense"); err == nil {
		t.Fatal("expected an error for malformed access rights")
	}
}
