package tds

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDoneBytes constructs a raw DONE/DONEPROC/DONEINPROC token body:
// tokenType(1) Status(2) CurCmd(2) RowCount(8).
func buildDoneBytes(tokenType byte, status uint16, rowCount uint64) []byte {
	buf := make([]byte, 13)
	buf[0] = tokenType
	binary.LittleEndian.PutUint16(buf[1:3], status)
	binary.LittleEndian.PutUint64(buf[5:13], rowCount)
	return buf
}

func TestDecodeDoneProc(t *testing.T) {
	t.Parallel()

	payload := buildDoneBytes(tokenDoneProc, doneCount, 7)
	msg, err := NewDecoder(payload).Next()
	require.NoError(t, err)

	done, ok := msg.(DoneMessage)
	require.True(t, ok)
	assert.True(t, done.Proc)
	assert.False(t, done.InProc)
	assert.Equal(t, uint64(7), done.RowCount)
	assert.False(t, done.More())
}

func TestDecodeDoneInProcWithMore(t *testing.T) {
	t.Parallel()

	payload := buildDoneBytes(tokenDoneInProc, doneMore|doneCount, 128)
	msg, err := NewDecoder(payload).Next()
	require.NoError(t, err)

	done, ok := msg.(DoneMessage)
	require.True(t, ok)
	assert.True(t, done.InProc)
	assert.True(t, done.More())
	assert.Equal(t, uint64(128), done.RowCount)
}

func TestDecoderReturnsEOFSentinelOnEmptyPayload(t *testing.T) {
	t.Parallel()

	_, err := NewDecoder(nil).Next()
	require.Error(t, err)
	assert.True(t, IsEOF(err))
}

// buildErrorBytes constructs a raw ERROR/INFO token body matching
// MS-TDS 2.2.7.9/2.2.7.11, so this file can exercise Decoder.Next
// without any packet-framing dependency.
func buildErrorBytes(tokenType byte, number uint32, state, class uint8, message, server, proc string, line uint32) []byte {
	msgUTF16 := encodeUTF16LE(message)
	srvUTF16 := encodeUTF16LE(server)
	procUTF16 := encodeUTF16LE(proc)

	dataLen := 4 + 1 + 1 + 2 + len(msgUTF16) + 1 + len(srvUTF16) + 1 + len(procUTF16) + 4
	buf := make([]byte, 0, 3+dataLen)
	buf = append(buf, tokenType)

	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(dataLen))
	buf = append(buf, lenBytes...)

	numBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(numBytes, number)
	buf = append(buf, numBytes...)
	buf = append(buf, state, class)

	msgLenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(msgLenBytes, uint16(len([]rune(message))))
	buf = append(buf, msgLenBytes...)
	buf = append(buf, msgUTF16...)

	buf = append(buf, uint8(len([]rune(server))))
	buf = append(buf, srvUTF16...)

	buf = append(buf, uint8(len([]rune(proc))))
	buf = append(buf, procUTF16...)

	lineBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(lineBytes, line)
	buf = append(buf, lineBytes...)

	return buf
}

func TestDecodeErrorToken(t *testing.T) {
	t.Parallel()

	payload := buildErrorBytes(tokenError, 208, 1, 16, "Invalid object name 'orders'.", "MSSQL01", "", 3)
	msg, err := NewDecoder(payload).Next()
	require.NoError(t, err)

	errMsg, ok := msg.(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, int32(208), errMsg.Number)
	assert.Equal(t, uint8(16), errMsg.Class)
	assert.Equal(t, "Invalid object name 'orders'.", errMsg.Message)
	assert.Equal(t, "MSSQL01", errMsg.ServerName)
	assert.Equal(t, uint32(3), errMsg.LineNumber)
	assert.Contains(t, errMsg.Error(), "208")
}

func TestDecodeInfoToken(t *testing.T) {
	t.Parallel()

	payload := buildErrorBytes(tokenInfo, 16954, 1, 10, "The XML prolog was ignored.", "MSSQL01", "", 0)
	msg, err := NewDecoder(payload).Next()
	require.NoError(t, err)

	info, ok := msg.(InfoMessage)
	require.True(t, ok)
	assert.Equal(t, int32(16954), info.Number)
}

// buildEnvChangeTransactionBytes constructs an ENVCHANGE sub-record
// carrying a binary transaction descriptor (BeginTransaction/EnlistDTC
// shape): Type(1) NewLen(1) New(n) OldLen(1) Old(m).
func buildEnvChangeTransactionBytes(envType byte, newVal, oldVal []byte) []byte {
	body := []byte{envType}
	body = append(body, byte(len(newVal)))
	body = append(body, newVal...)
	body = append(body, byte(len(oldVal)))
	body = append(body, oldVal...)

	buf := make([]byte, 0, 3+len(body))
	buf = append(buf, tokenEnvChange)
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(body)))
	buf = append(buf, lenBytes...)
	buf = append(buf, body...)
	return buf
}

func TestDecodeEnvChangeTransactionDescriptor(t *testing.T) {
	t.Parallel()

	descriptor := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	payload := buildEnvChangeTransactionBytes(envTypeBeginTransaction, descriptor, nil)
	msg, err := NewDecoder(payload).Next()
	require.NoError(t, err)

	ec, ok := msg.(EnvChangeMessage)
	require.True(t, ok)
	assert.Equal(t, envTypeBeginTransaction, ec.Type)
	assert.Equal(t, descriptor, ec.NewValue)
}

// buildEnvChangeStringBytes constructs an ENVCHANGE sub-record carrying
// B_VARCHAR old/new string pairs (database/collation/packet-size shape).
func buildEnvChangeStringBytes(envType byte, newStr, oldStr string) []byte {
	newUTF16 := encodeUTF16LE(newStr)
	oldUTF16 := encodeUTF16LE(oldStr)

	body := []byte{envType}
	body = append(body, byte(len([]rune(newStr))))
	body = append(body, newUTF16...)
	body = append(body, byte(len([]rune(oldStr))))
	body = append(body, oldUTF16...)

	buf := make([]byte, 0, 3+len(body))
	buf = append(buf, tokenEnvChange)
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(body)))
	buf = append(buf, lenBytes...)
	buf = append(buf, body...)
	return buf
}

func TestDecodeEnvChangeDatabase(t *testing.T) {
	t.Parallel()

	payload := buildEnvChangeStringBytes(envTypeDatabase, "orders_db", "master")
	msg, err := NewDecoder(payload).Next()
	require.NoError(t, err)

	ec, ok := msg.(EnvChangeMessage)
	require.True(t, ok)
	assert.Equal(t, envTypeDatabase, ec.Type)
	assert.Equal(t, "orders_db", string(ec.NewValue))
	assert.Equal(t, "master", string(ec.OldValue))
}

// buildReturnValueIntBytes constructs a RETURNVALUE token carrying an
// INTN value: ordinal(2) NameLen(1) Name StatusByte(1) UserType(4)
// Flags(2) TYPE_INFO(INTN: id, maxlen) ValueLen(1) Value.
func buildReturnValueIntBytes(ordinal uint16, value int32) []byte {
	buf := []byte{tokenReturnValue}
	ordBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(ordBytes, ordinal)
	buf = append(buf, ordBytes...)
	buf = append(buf, 0) // Empty parameter name.
	buf = append(buf, 0) // Status byte.
	buf = append(buf, 0, 0, 0, 0) // UserType.
	buf = append(buf, 0, 0) // Flags.
	buf = append(buf, typeIntN, 4, 4)
	valBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(valBytes, uint32(value))
	buf = append(buf, valBytes...)
	return buf
}

func TestDecodeReturnValueIntN(t *testing.T) {
	t.Parallel()

	payload := buildReturnValueIntBytes(1, 42)
	msg, err := NewDecoder(payload).Next()
	require.NoError(t, err)

	rv, ok := msg.(ReturnValueMessage)
	require.True(t, ok)
	assert.Equal(t, uint16(1), rv.ParamOrdinal)
	assert.Equal(t, int64(42), rv.Value)
}

func TestNextDispatchesMultipleTokensInSequence(t *testing.T) {
	t.Parallel()

	var payload []byte
	payload = append(payload, buildReturnValueIntBytes(0, 99)...)
	payload = append(payload, buildDoneBytes(tokenDoneProc, 0, 0)...)

	dec := NewDecoder(payload)

	first, err := dec.Next()
	require.NoError(t, err)
	rv, ok := first.(ReturnValueMessage)
	require.True(t, ok)
	assert.Equal(t, int64(99), rv.Value)

	second, err := dec.Next()
	require.NoError(t, err)
	done, ok := second.(DoneMessage)
	require.True(t, ok)
	assert.True(t, done.Proc)

	_, err = dec.Next()
	require.True(t, IsEOF(err))
}
