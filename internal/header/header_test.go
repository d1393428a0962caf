package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake_RoundTrip(t *testing.T) {
	h := Make(30, 3, 1000, false)
	buf := h.Marshal()
	require.Len(t, buf, Size)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.NoError(t, Validate(got))
}

func TestMake_LockedSetsRefCountOne(t *testing.T) {
	h := Make(0, 0, 1000, true)
	assert.Equal(t, uint32(1), h.RefCount)
	assert.True(t, h.IsLocked())

	h2 := Make(0, 0, 1000, false)
	assert.Equal(t, uint32(0), h2.RefCount)
	assert.False(t, h2.IsLocked())
}

func TestValidate_MagicMismatch(t *testing.T) {
	h := Make(0, 0, 1000, false)
	h.Magic = 0xDEADBEEF
	assert.ErrorIs(t, Validate(h), ErrMagicMismatch)
}

func TestValidate_WrongHeaderSize(t *testing.T) {
	h := Make(0, 0, 1000, false)
	h.HeaderSize = 48
	assert.ErrorIs(t, Validate(h), ErrWrongHeaderSize)
}

func TestValidate_InvalidCRC(t *testing.T) {
	h := Make(0, 0, 1000, false)
	h.CRC ^= 0xFFFFFFFF
	assert.ErrorIs(t, Validate(h), ErrInvalidHeaderCRC)
}

func TestValidate_PrecedenceMagicBeforeSize(t *testing.T) {
	h := Make(0, 0, 1000, false)
	h.Magic = 0
	h.HeaderSize = 0
	assert.ErrorIs(t, Validate(h), ErrMagicMismatch)
}

func TestGetHeaderFromData_TooShort(t *testing.T) {
	_, ok := GetHeaderFromData(make([]byte, 10))
	assert.False(t, ok)
}

func TestGetHeaderFromData_ExactSize(t *testing.T) {
	h := Make(10, 5, 1000, false)
	buf := append(h.Marshal(), []byte("hello")...)
	got, ok := GetHeaderFromData(buf)
	assert.True(t, ok)
	assert.Equal(t, h, got)
}

func TestUnmarshal_NotEnoughData(t *testing.T) {
	_, err := Unmarshal(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestFlagStreamIncomplete(t *testing.T) {
	h := Make(0, 0, 1000, false)
	h.Flags |= FlagStreamIncomplete
	h.CRC = calculateCRC(h)
	assert.True(t, h.IsStreamIncomplete())
	assert.NoError(t, Validate(h))
}

func TestMarshal_CorruptByteFlipsCRC(t *testing.T) {
	h := Make(60, 4, 5000, false)
	buf := h.Marshal()
	buf[24] ^= 0x01 // flip a byte inside updateTimeSec
	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.ErrorIs(t, Validate(got), ErrInvalidHeaderCRC)
}
