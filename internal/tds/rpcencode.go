package tds

import (
	"encoding/binary"

	"github.com/shopspring/decimal"
)

// RPCParam mirrors rpc.Param without importing the rpc package (which
// would create an import cycle, since rpc is a pure data-shaping layer
// sitting above the wire encoder). The request builder's Direction enum
// maps 1:1 onto the OUT status bit encoded here.
type RPCParam struct {
	Name string
	Out  bool
	Value any
}

// EncodeRPC serializes one RPC batch: the ALL_HEADERS transaction
// descriptor block, the procedure id, option flags, and the ordered
// parameter list — each parameter as NameLen+Name, a status byte with
// the OUT bit, then a TYPE_INFO+value pair chosen from the parameter's
// Go type. This is the request-side counterpart to the token Decoder;
// together they round-trip the subset of MS-TDS 2.2.6.6 this engine
// exercises (no LOB/collation-sensitive text types on the way out).
func EncodeRPC(procID uint16, txDescriptor [8]byte, optionFlags uint16, params []RPCParam) []byte {
	var buf []byte

	buf = appendAllHeaders(buf, txDescriptor)

	// ProcIDSwitch (0xFFFF) + ProcID, matching how the server-known
	// fixed procedures are always invoked by id rather than by name.
	buf = append(buf, 0xFF, 0xFF)
	buf = appendUint16(buf, procID)
	buf = appendUint16(buf, optionFlags)

	for _, p := range params {
		nameUTF16 := encodeUTF16LE(p.Name)
		buf = append(buf, byte(len(p.Name)))
		buf = append(buf, nameUTF16...)

		var status byte
		if p.Out {
			status = 0x01
		}
		buf = append(buf, status)

		buf = appendTypedValue(buf, p.Value)
	}

	return buf
}

func appendAllHeaders(buf []byte, txDescriptor [8]byte) []byte {
	// ALL_HEADERS: TotalLength(4) + one TransactionDescriptorHeader:
	// HeaderLength(4) HeaderType(2, = 2) TransactionDescriptor(8)
	// OutstandingRequestCount(4, = 1).
	const headerLen = 4 + 2 + 8 + 4
	const totalLen = 4 + headerLen

	buf = appendUint32(buf, totalLen)
	buf = appendUint32(buf, headerLen)
	buf = appendUint16(buf, 2)
	buf = append(buf, txDescriptor[:]...)
	buf = appendUint32(buf, 1)
	return buf
}

// appendTypedValue encodes v as a TYPE_INFO + value pair, inferring the
// SQL type from v's Go type — the inverse of decodeTypedValue for the
// subset of types this engine ever sends as RPC parameters.
func appendTypedValue(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, typeNull)

	case int32:
		buf = append(buf, typeIntN)
		buf = append(buf, 4) // Max length.
		buf = append(buf, 4) // Value length.
		return appendUint32(buf, uint32(t))

	case int:
		return appendTypedValue(buf, int32(t))

	case bool:
		// BITNTYPE's TYPE_INFO carries no separate max-length byte (BIT is
		// fixed-size); only the value's own 1-byte length prefix follows.
		buf = append(buf, typeBitN)
		buf = append(buf, 1)
		if t {
			return append(buf, 1)
		}
		return append(buf, 0)

	case string:
		utf16 := encodeUTF16LE(t)
		buf = append(buf, typeNVarChar)
		buf = appendUint16(buf, 4000) // Max length (chars).
		buf = append(buf, make([]byte, 5)...) // Collation, unused on the way out.
		buf = appendUint16(buf, uint16(len(utf16)))
		return append(buf, utf16...)

	case decimal.Decimal:
		return appendDecimal(buf, t)

	case []byte:
		buf = append(buf, typeBigVarBin)
		buf = appendUint16(buf, 8000)
		buf = appendUint16(buf, uint16(len(t)))
		return append(buf, t...)

	default:
		// Unreachable for the parameter shapes this engine's rpc.Builder
		// ever produces; fail loudly rather than silently drop a value.
		panic("tds: appendTypedValue: unsupported parameter type")
	}
}

func appendDecimal(buf []byte, d decimal.Decimal) []byte {
	scale := uint8(d.Exponent() * -1)
	coeff := d.Coefficient()

	magnitude := coeff.Bytes()
	// big.Int.Bytes() is big-endian; TDS wants little-endian magnitude.
	for i, j := 0, len(magnitude)-1; i < j; i, j = i+1, j-1 {
		magnitude[i], magnitude[j] = magnitude[j], magnitude[i]
	}
	if len(magnitude) == 0 {
		magnitude = []byte{0}
	}

	buf = append(buf, typeDecimalN)
	buf = append(buf, 17)   // Max length.
	buf = append(buf, 38)   // Precision.
	buf = append(buf, scale)
	buf = append(buf, byte(1+len(magnitude)))
	if d.Sign() < 0 {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
	}
	return append(buf, magnitude...)
}

func appendUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return append(buf, b...)
}

func appendUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b...)
}
