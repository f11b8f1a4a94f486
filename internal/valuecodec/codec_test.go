package valuecodec

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt32NarrowsSupportedShapes(t *testing.T) {
	t.Parallel()

	v, err := Int32(int64(42))
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	v, err = Int32(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), v)

	v, err = Int32(true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	v, err = Int32(decimal.New(7, 0))
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
}

func TestInt32RejectsUnsupportedShape(t *testing.T) {
	t.Parallel()

	_, err := Int32("not a number")
	require.Error(t, err)
}

func TestBoolNarrowsSupportedShapes(t *testing.T) {
	t.Parallel()

	v, err := Bool(int64(1))
	require.NoError(t, err)
	assert.True(t, v)

	v, err = Bool(nil)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestDecimalNarrowsSupportedShapes(t *testing.T) {
	t.Parallel()

	d, err := Decimal(int64(5))
	require.NoError(t, err)
	assert.True(t, decimal.New(5, 0).Equal(d))

	d, err = Decimal(nil)
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(d))
}

func TestStringNarrowsSupportedShapes(t *testing.T) {
	t.Parallel()

	v, err := String("orders_db")
	require.NoError(t, err)
	assert.Equal(t, "orders_db", v)

	_, err = String(int64(1))
	require.Error(t, err)
}
