package tds

import (
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"
)

// ── TYPE_INFO + value decoding (MS-TDS 2.2.5.4 / 2.2.7.16) ──────────────
//
// Only the SQL types the fixed system stored procedures actually surface
// as OUT parameters are handled: integers (cursor handle, row counts,
// prepared statement handle), bit (direct-execution flag), and
// decimal/numeric (no OUT parameter in the six procedures is decimal in
// practice, but the codec stays general over whatever TypeInfo the server
// sends rather than assuming the call site). Character and binary types
// are decoded too, since a server-side error may still route through the
// same RETURNVALUE framing for diagnostic output parameters.
const (
	typeNull       byte = 0x1F
	typeInt1       byte = 0x30
	typeBit        byte = 0x32
	typeInt2       byte = 0x34
	typeInt4       byte = 0x38
	typeIntN       byte = 0x26
	typeBitN       byte = 0x68
	typeDecimalN   byte = 0x6A
	typeNumericN   byte = 0x6C
	typeBigVarChar byte = 0xA7
	typeNVarChar   byte = 0xE7
	typeBigVarBin  byte = 0xA5
	typeGUID       byte = 0x24
)

// decodeTypedValue reads a TYPE_INFO descriptor followed by its value at
// buf[pos:], returning a Go-native value (int64, bool, string, []byte,
// decimal.Decimal, or nil for SQL NULL) and the position just past it.
func decodeTypedValue(buf []byte, pos int) (any, int, error) {
	if pos >= len(buf) {
		return nil, pos, fmt.Errorf("truncated TYPE_INFO")
	}
	typeID := buf[pos]
	pos++

	switch typeID {
	case typeNull:
		return nil, pos, nil

	case typeInt1:
		if pos+1 > len(buf) {
			return nil, pos, fmt.Errorf("truncated INT1")
		}
		return int64(buf[pos]), pos + 1, nil

	case typeInt2:
		if pos+2 > len(buf) {
			return nil, pos, fmt.Errorf("truncated INT2")
		}
		return int64(int16(binary.LittleEndian.Uint16(buf[pos : pos+2]))), pos + 2, nil

	case typeInt4:
		if pos+4 > len(buf) {
			return nil, pos, fmt.Errorf("truncated INT4")
		}
		return int64(int32(binary.LittleEndian.Uint32(buf[pos : pos+4]))), pos + 4, nil

	case typeBit:
		if pos+1 > len(buf) {
			return nil, pos, fmt.Errorf("truncated BIT")
		}
		return buf[pos] != 0, pos + 1, nil

	case typeIntN:
		return decodeIntN(buf, pos)

	case typeBitN:
		if pos+1 > len(buf) {
			return nil, pos, fmt.Errorf("truncated BITN length")
		}
		n := int(buf[pos])
		pos++
		if n == 0 {
			return nil, pos, nil
		}
		if pos+n > len(buf) {
			return nil, pos, fmt.Errorf("BITN value overflows buffer")
		}
		v := buf[pos] != 0
		return v, pos + n, nil

	case typeDecimalN, typeNumericN:
		return decodeDecimalN(buf, pos)

	case typeBigVarChar, typeNVarChar:
		return decodeVarChar(typeID, buf, pos)

	case typeBigVarBin:
		return decodeVarBin(buf, pos)

	case typeGUID:
		if pos+1 > len(buf) {
			return nil, pos, fmt.Errorf("truncated GUID length")
		}
		n := int(buf[pos])
		pos++
		if n == 0 {
			return nil, pos, nil
		}
		if pos+n > len(buf) {
			return nil, pos, fmt.Errorf("GUID value overflows buffer")
		}
		return append([]byte(nil), buf[pos:pos+n]...), pos + n, nil

	default:
		return nil, pos, fmt.Errorf("unsupported TYPE_INFO 0x%02X", typeID)
	}
}

// decodeIntN reads INTNTYPE's 1-byte max-length TYPE_INFO followed by a
// 1-byte length-prefixed little-endian integer value of 0, 1, 2, 4, or 8
// bytes (0 meaning SQL NULL).
func decodeIntN(buf []byte, pos int) (any, int, error) {
	if pos+1 > len(buf) {
		return nil, pos, fmt.Errorf("truncated INTN max length")
	}
	pos++ // Max length byte, not needed once the value's own length prefix arrives.

	if pos+1 > len(buf) {
		return nil, pos, fmt.Errorf("truncated INTN value length")
	}
	n := int(buf[pos])
	pos++
	if n == 0 {
		return nil, pos, nil
	}
	if pos+n > len(buf) {
		return nil, pos, fmt.Errorf("INTN value overflows buffer")
	}
	var v int64
	switch n {
	case 1:
		v = int64(buf[pos])
	case 2:
		v = int64(int16(binary.LittleEndian.Uint16(buf[pos : pos+2])))
	case 4:
		v = int64(int32(binary.LittleEndian.Uint32(buf[pos : pos+4])))
	case 8:
		v = int64(binary.LittleEndian.Uint64(buf[pos : pos+8]))
	default:
		return nil, pos, fmt.Errorf("unsupported INTN length %d", n)
	}
	return v, pos + n, nil
}

// decodeDecimalN reads DECIMALNTYPE/NUMERICNTYPE's TYPE_INFO
// (max length, precision, scale) followed by a 1-byte length-prefixed
// value (sign byte + little-endian unsigned magnitude), scaled by the
// declared number of fractional digits.
func decodeDecimalN(buf []byte, pos int) (any, int, error) {
	if pos+3 > len(buf) {
		return nil, pos, fmt.Errorf("truncated DECIMALN type info")
	}
	pos++ // Max length.
	pos++ // Precision.
	scale := int32(buf[pos])
	pos++

	if pos+1 > len(buf) {
		return nil, pos, fmt.Errorf("truncated DECIMALN value length")
	}
	n := int(buf[pos])
	pos++
	if n == 0 {
		return nil, pos, nil
	}
	if pos+n > len(buf) {
		return nil, pos, fmt.Errorf("DECIMALN value overflows buffer")
	}

	sign := buf[pos]
	magnitude := buf[pos+1 : pos+n]

	var unscaled uint64
	for i := len(magnitude) - 1; i >= 0; i-- {
		unscaled = unscaled<<8 | uint64(magnitude[i])
	}

	d := decimal.New(int64(unscaled), -scale)
	if sign == 0 {
		d = d.Neg()
	}
	return d, pos + n, nil
}

func decodeVarChar(typeID byte, buf []byte, pos int) (any, int, error) {
	var maxLen int
	if typeID == typeNVarChar {
		if pos+2 > len(buf) {
			return nil, pos, fmt.Errorf("truncated NVARCHAR max length")
		}
		maxLen = int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
		pos += 2
	} else {
		if pos+1 > len(buf) {
			return nil, pos, fmt.Errorf("truncated VARCHAR max length")
		}
		maxLen = int(buf[pos])
		pos++
	}
	_ = maxLen

	if pos+5 > len(buf) {
		return nil, pos, fmt.Errorf("truncated collation")
	}
	pos += 5 // Collation info, unused — character set conversion is out of scope.

	if pos+2 > len(buf) {
		return nil, pos, fmt.Errorf("truncated VARCHAR value length")
	}
	byteLen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if byteLen == 0xFFFF {
		return nil, pos, nil
	}
	if pos+byteLen > len(buf) {
		return nil, pos, fmt.Errorf("VARCHAR value overflows buffer")
	}
	if typeID == typeNVarChar {
		s, err := decodeUTF16LE(buf[pos : pos+byteLen])
		return s, pos + byteLen, err
	}
	return string(buf[pos : pos+byteLen]), pos + byteLen, nil
}

func decodeVarBin(buf []byte, pos int) (any, int, error) {
	if pos+2 > len(buf) {
		return nil, pos, fmt.Errorf("truncated VARBINARY max length")
	}
	pos += 2

	if pos+2 > len(buf) {
		return nil, pos, fmt.Errorf("truncated VARBINARY value length")
	}
	byteLen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if byteLen == 0xFFFF {
		return nil, pos, nil
	}
	if pos+byteLen > len(buf) {
		return nil, pos, fmt.Errorf("VARBINARY value overflows buffer")
	}
	return append([]byte(nil), buf[pos:pos+byteLen]...), pos + byteLen, nil
}
