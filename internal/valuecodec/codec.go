// Package valuecodec is the codec facade: it turns the raw Go-native
// values the tds package decodes out of a RETURNVALUE token (int64,
// bool, string, []byte, decimal.Decimal, nil) into the typed scalars the
// cursor engine actually asks for. Decoding the TYPE_INFO bytes
// themselves lives in internal/tds, which owns the wire layer; this
// package only narrows "any" down to the shape a caller expects.
package valuecodec

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Int32 narrows a decoded RETURNVALUE payload to an int32, the shape
// every cursor id, prepared handle, and row count takes in practice.
func Int32(v any) (int32, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return int32(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case decimal.Decimal:
		return int32(t.IntPart()), nil
	default:
		return 0, fmt.Errorf("valuecodec: cannot narrow %T to int32", v)
	}
}

// Bool narrows a decoded payload to a bool.
func Bool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	default:
		return false, fmt.Errorf("valuecodec: cannot narrow %T to bool", v)
	}
}

// Decimal narrows a decoded payload to a decimal.Decimal, for OUT
// parameters declared NUMERIC/DECIMAL.
func Decimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return t, nil
	case int64:
		return decimal.New(t, 0), nil
	default:
		return decimal.Zero, fmt.Errorf("valuecodec: cannot narrow %T to decimal", v)
	}
}

// String narrows a decoded payload to a string.
func String(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	default:
		return "", fmt.Errorf("valuecodec: cannot narrow %T to string", v)
	}
}
