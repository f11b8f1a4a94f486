package tds

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// decodeUTF16LE decodes a UTF-16 little-endian byte slice to a Go string.
// TDS uses UTF-16 LE for every character-mode field in the protocol:
// query text, parameter definitions, and decoded NVARCHAR values alike.
func decodeUTF16LE(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("UTF-16 LE data has odd length %d", len(b))
	}

	u16 := make([]uint16, len(b)/2)
	for i := 0; i < len(u16); i++ {
		u16[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}

	return string(utf16.Decode(u16)), nil
}

// encodeUTF16LE encodes a Go string to UTF-16 little-endian bytes.
func encodeUTF16LE(s string) []byte {
	runes := []rune(s)
	u16 := utf16.Encode(runes)
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return b
}
