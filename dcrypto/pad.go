package dcrypto

import "errors"

// PadISO9797M2 pads data to the next multiple of blockSize with a
// single 0x80 byte followed by zeros. If data is already a multiple of
// blockSize, a full extra block of padding is still appended (ISO
// 9797-1 method 2 always adds at least one byte).
func PadISO9797M2(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

// UnpadISO9797M2 strips trailing zeros then the 0x80 marker, returning
// an error if the marker is missing.
func UnpadISO9797M2(data []byte) ([]byte, error) {
	idx := len(data) - 1
	for idx >= 0 && data[idx] == 0x00 {
		idx--
	}
	if idx < 0 || data[idx] != 0x80 {
		return nil, errors.New("dcrypto: bad ISO 9797-1 method 2 padding")
	}
	return data[:idx], nil
}
