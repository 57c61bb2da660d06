package dump

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCountingReader(data []byte) *countingReader {
	return &countingReader{br: bufio.NewReader(bytes.NewReader(data))}
}

func TestDecodeLength6Bit(t *testing.T) {
	c := newCountingReader([]byte{0x2A})
	n, special, err := c.length()
	require.NoError(t, err)
	assert.False(t, special)
	assert.Equal(t, uint64(42), n)
}

func TestDecodeLength14Bit(t *testing.T) {
	c := newCountingReader([]byte{0x6A, 0xAA})
	n, special, err := c.length()
	require.NoError(t, err)
	assert.False(t, special)
	assert.Equal(t, uint64(10922), n)
}

func TestDecodeLength32Bit(t *testing.T) {
	c := newCountingReader([]byte{0x80, 0xFF, 0x00, 0xFF, 0x00})
	n, special, err := c.length()
	require.NoError(t, err)
	assert.False(t, special)
	assert.Equal(t, uint64(4278255360), n)
}

func TestEncodeLengthRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 42, 63, 64, 16383, 16384, 1 << 20, 4278255360} {
		enc := encodeLength(nil, v)
		c := newCountingReader(enc)
		got, special, err := c.length()
		require.NoError(t, err)
		assert.False(t, special)
		assert.Equal(t, v, got, "round trip of %d", v)
	}
}

func TestMetadataSection(t *testing.T) {
	// 0xFA 0x03 "key" 0x05 "value"
	data := []byte{0xFA, 0x03, 'k', 'e', 'y', 0x05, 'v', 'a', 'l', 'u', 'e'}
	c := newCountingReader(data[1:]) // skip the opcode byte itself
	key, err := c.string()
	require.NoError(t, err)
	val, err := c.string()
	require.NoError(t, err)
	assert.Equal(t, "key", string(key))
	assert.Equal(t, "value", string(val))
}

func TestWriteReadRoundTrip(t *testing.T) {
	ttl := int64(5_000)
	entries := []ValueEntry{
		{Key: "foo", Value: []byte("bar")},
		{Key: "k", Value: []byte("v"), ExpiresAtMs: &ttl},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries, nil, true))

	db, err := Read(&buf, true)
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.Len(t, db.Entries, 2)

	byKey := map[string]ValueEntry{}
	for _, e := range db.Entries {
		byKey[e.Key] = e
	}

	assert.Equal(t, []byte("bar"), byKey["foo"].Value)
	assert.Nil(t, byKey["foo"].ExpiresAtMs)
	require.NotNil(t, byKey["k"].ExpiresAtMs)
	assert.Equal(t, ttl, *byKey["k"].ExpiresAtMs)
}

func TestWriteIdempotentWithoutCRC(t *testing.T) {
	entries := []ValueEntry{{Key: "a", Value: []byte("1")}}

	var buf1, buf2 bytes.Buffer
	require.NoError(t, Write(&buf1, entries, nil, false))
	require.NoError(t, Write(&buf2, entries, nil, false))

	assert.Equal(t, buf1.Bytes(), buf2.Bytes())
}

func TestWriteIdempotentWithCRC(t *testing.T) {
	entries := []ValueEntry{{Key: "a", Value: []byte("1")}}

	var buf1, buf2 bytes.Buffer
	require.NoError(t, Write(&buf1, entries, nil, true))
	require.NoError(t, Write(&buf2, entries, nil, true))

	assert.Equal(t, buf1.Bytes(), buf2.Bytes())
}

func TestReadRejectsCorruptCRC(t *testing.T) {
	entries := []ValueEntry{{Key: "a", Value: []byte("1")}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries, nil, true))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := Read(bytes.NewReader(corrupted), true)
	assert.Error(t, err)
}

func TestReadAcceptsAnyTrailerWhenNotVerifying(t *testing.T) {
	entries := []ValueEntry{{Key: "a", Value: []byte("1")}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries, nil, true))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := Read(bytes.NewReader(corrupted), false)
	assert.NoError(t, err)
}

func TestReadEmptyDumpReturnsNonNilDatabase(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic + Version)
	buf.WriteByte(byte(opEOF))
	buf.Write(make([]byte, crcLen))

	db, err := Read(&buf, true)
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.Empty(t, db.Entries)
}

func TestReadSpecialUint8IsUnsigned(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic + Version)
	buf.WriteByte(byte(opSelectDB))
	buf.Write(encodeLength(nil, 0))
	buf.WriteByte(byte(opResizeDB))
	buf.Write(encodeLength(nil, 1))
	buf.Write(encodeLength(nil, 0))
	buf.WriteByte(byte(TypeString))
	buf.WriteByte(0xC0) // special-encoding length byte, tag 0 (1-byte int)
	buf.WriteByte(200)  // 200 as unsigned, -56 as signed
	buf.Write(encodeLength(nil, 1))
	buf.WriteByte('v')
	buf.WriteByte(byte(opEOF))
	buf.Write(make([]byte, crcLen))

	db, err := Read(&buf, false)
	require.NoError(t, err)
	require.Len(t, db.Entries, 1)
	assert.Equal(t, "200", db.Entries[0].Key)
}

func TestReadRejectsUnsupportedValueType(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic + Version)
	buf.WriteByte(byte(opSelectDB))
	buf.Write(encodeLength(nil, 0))
	buf.WriteByte(byte(opResizeDB))
	buf.Write(encodeLength(nil, 1))
	buf.Write(encodeLength(nil, 0))
	buf.WriteByte(0x01) // unsupported type (list)
	buf.Write(encodeLength(nil, 1))
	buf.WriteByte('k')
	buf.WriteByte(byte(opEOF))
	buf.Write(make([]byte, crcLen))

	_, err := Read(&buf, false)
	assert.Error(t, err)
}
