// Package ndef adapts the DESFire NDEF/SDM convenience helpers onto
// the generic CreateStdDataFile/ReadData/WriteData operations: build
// an SDM-enabled NDEF URI record with placeholder uid/ctr/mac fields,
// write it to a standard data file as the NFC Forum Type 4 Tag
// application expects, and locate the byte offsets the card's SDM
// engine mirrors into on every tap.
package ndef

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/barnettlynn/desfire/picc"
	"github.com/barnettlynn/desfire/transmit"
)

// NDEF application and file identifiers fixed by the NFC Forum Type 4
// Tag specification; DESFire EV2/EV3 map the NDEF file onto AID
// 0xE110E1 relative to the capability container layout.
const (
	AID    picc.AID = 0xE110E1
	FileNo byte     = 0x02
)

const (
	sdmUIDLenASCII = 14
	sdmCtrLenASCII = 6
	sdmMacLenASCII = 16
)

// Message is a built NDEF message carrying SDM placeholders, along
// with the byte offsets a SDMSettings mirror configuration needs.
type Message struct {
	URL            string
	Bytes          []byte
	UIDOffset      uint32
	CtrOffset      uint32
	MacInputOffset uint32
	MacOffset      uint32
}

// BuildSDMURI constructs an NDEF URI record from baseURL with zero-
// filled uid, ctr, and mac query parameters appended in that fixed
// order (url.Values.Encode would sort them alphabetically, which the
// card's SDM mirror offsets do not tolerate), then locates the byte
// offsets of each placeholder within the record.
func BuildSDMURI(baseURL string) (*Message, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ndef: invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("ndef: URL must be absolute (include scheme and host)")
	}
	parsed.Fragment = ""

	query := parsed.Query()
	var params []string
	params = append(params, fmt.Sprintf("uid=%s", url.QueryEscape(strings.Repeat("0", sdmUIDLenASCII))))
	params = append(params, fmt.Sprintf("ctr=%s", url.QueryEscape(strings.Repeat("0", sdmCtrLenASCII))))
	params = append(params, fmt.Sprintf("mac=%s", url.QueryEscape(strings.Repeat("0", sdmMacLenASCII))))
	for key, values := range query {
		if key != "uid" && key != "ctr" && key != "mac" {
			for _, value := range values {
				params = append(params, fmt.Sprintf("%s=%s", url.QueryEscape(key), url.QueryEscape(value)))
			}
		}
	}
	parsed.RawQuery = strings.Join(params, "&")
	fullURL := parsed.String()

	prefixCode := byte(0x00)
	uri := fullURL
	for _, p := range []struct {
		prefix string
		code   byte
	}{
		{prefix: "https://www.", code: 0x02},
		{prefix: "http://www.", code: 0x01},
		{prefix: "https://", code: 0x04},
		{prefix: "http://", code: 0x03},
	} {
		if strings.HasPrefix(fullURL, p.prefix) {
			prefixCode = p.code
			uri = fullURL[len(p.prefix):]
			break
		}
	}

	// NLEN(2) + record header(3) + type(1) + payload(prefix + uri)
	payloadLen := 1 + len(uri)
	if payloadLen > 255 {
		return nil, fmt.Errorf("ndef: URI too long")
	}
	recordLen := 4 + payloadLen
	totalLen := 2 + recordLen
	if totalLen > 256 {
		return nil, fmt.Errorf("ndef: record exceeds 256 bytes")
	}

	out := make([]byte, totalLen)
	out[0] = byte(recordLen >> 8)
	out[1] = byte(recordLen)
	out[2] = 0xD1 // TNF=well-known, MB=1, ME=1, SR=1
	out[3] = 0x01 // type length
	out[4] = byte(payloadLen)
	out[5] = 0x55 // type 'U'
	out[6] = prefixCode
	copy(out[7:], uri)

	uidIdx := bytes.Index(out, []byte("uid="))
	ctrIdx := bytes.Index(out, []byte("ctr="))
	macIdx := bytes.Index(out, []byte("mac="))
	if uidIdx < 0 || ctrIdx < 0 || macIdx < 0 {
		return nil, fmt.Errorf("ndef: failed to locate uid/ctr/mac placeholders")
	}
	uidOffset := uidIdx + 4
	ctrOffset := ctrIdx + 4
	macOffset := macIdx + 4
	if uidOffset+sdmUIDLenASCII > len(out) || ctrOffset+sdmCtrLenASCII > len(out) || macOffset+sdmMacLenASCII > len(out) {
		return nil, fmt.Errorf("ndef: placeholder offsets out of range")
	}

	return &Message{
		URL:            fullURL,
		Bytes:          out,
		UIDOffset:      uint32(uidOffset),
		CtrOffset:      uint32(ctrOffset),
		MacInputOffset: uint32(uidIdx),
		MacOffset:      uint32(macOffset),
	}, nil
}

// CreateFile creates a standard data file sized to hold an NDEF
// message, with the given access rights and communication mode.
func CreateFile(ctx context.Context, eng *transmit.Engine, fileNo, commSettings byte, ar picc.AccessRights, capacity int) error {
	return picc.CreateStdDataFile(ctx, eng, fileNo, commSettings, ar, capacity)
}

// Write stores msg's bytes into fileNo starting at offset 0, chunked
// by the transmit engine exactly as any other standard data file
// write would be.
func Write(ctx context.Context, eng *transmit.Engine, fileNo byte, msg *Message) error {
	return picc.WriteData(ctx, eng, fileNo, 0, msg.Bytes)
}

// Read reads back the full NDEF record from fileNo: the first two
// bytes give NLEN, the record length that follows.
func Read(ctx context.Context, eng *transmit.Engine, fileNo byte) ([]byte, error) {
	header, err := picc.ReadData(ctx, eng, fileNo, 0, 2)
	if err != nil {
		return nil, err
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("ndef: short NLEN header")
	}
	nlen := int(header[0])<<8 | int(header[1])
	return picc.ReadData(ctx, eng, fileNo, 0, 2+nlen)
}
