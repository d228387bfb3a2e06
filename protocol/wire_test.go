package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fdList []int

func (l *fdList) NextFd() (int, bool) {
	if len(*l) == 0 {
		return -1, false
	}
	fd := (*l)[0]
	*l = (*l)[1:]
	return fd, true
}

func TestEncodeRegistryBind(t *testing.T) {
	// wl_registry.bind(name=5, "wl_compositor", version=4, id=3)
	e := NewEncoder(2, 0)
	e.Uint(5)
	e.String("wl_compositor")
	e.Uint(4)
	e.NewID(3)
	msg, err := e.Message()
	require.NoError(t, err)

	// 8 header + 4 name + 4 len + 14 string padded to 16 + 4 version + 4 id
	assert.Equal(t, uint16(40), msg.Header.Size)
	assert.Len(t, msg.Data, 40)

	h, err := ParseHeader(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, Header{Object: 2, Opcode: 0, Size: 40}, h)

	d := NewDecoder(msg.Body(), nil)
	assert.Equal(t, uint32(5), d.Uint())
	assert.Equal(t, "wl_compositor", d.String())
	assert.Equal(t, uint32(4), d.Uint())
	assert.Equal(t, uint32(3), d.NewID())
	require.NoError(t, d.Err())
	assert.Zero(t, d.Remaining())
}

func TestStringPadding(t *testing.T) {
	for _, s := range []string{"", "a", "abc", "abcd"} {
		e := NewEncoder(1, 0)
		e.String(s)
		msg, err := e.Message()
		require.NoError(t, err)
		assert.Zero(t, len(msg.Data)%4, "message for %q must be 32-bit aligned", s)

		d := NewDecoder(msg.Body(), nil)
		assert.Equal(t, s, d.String())
		require.NoError(t, d.Err())
	}
}

func TestStringRejectsNUL(t *testing.T) {
	e := NewEncoder(1, 0)
	e.String("bad\x00name")
	_, err := e.Message()
	assert.Error(t, err)
}

func TestArrayFixedAndSigned(t *testing.T) {
	e := NewEncoder(7, 3)
	e.Int(-42)
	e.Fixed(FixedFromFloat(1.5))
	e.Array([]byte{1, 2, 3, 4, 5})
	e.Object(0)
	msg, err := e.Message()
	require.NoError(t, err)

	d := NewDecoder(msg.Body(), nil)
	assert.Equal(t, int32(-42), d.Int())
	assert.Equal(t, 1.5, d.Fixed().Float64())
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, d.Array())
	assert.Equal(t, uint32(0), d.Object())
	require.NoError(t, d.Err())
}

func TestFdsTravelOutOfBand(t *testing.T) {
	e := NewEncoder(9, 1)
	e.Fd(17)
	e.Uint(4096)
	msg, err := e.Message()
	require.NoError(t, err)
	assert.Equal(t, []int{17}, msg.Fds)
	assert.Equal(t, uint16(HeaderSize+4), msg.Header.Size)

	fds := fdList{17}
	d := NewDecoder(msg.Body(), &fds)
	assert.Equal(t, 17, d.Fd())
	assert.Equal(t, uint32(4096), d.Uint())
	require.NoError(t, d.Err())

	d = NewDecoder(nil, &fds)
	assert.Equal(t, -1, d.Fd())
	assert.Error(t, d.Err())

	bad := NewEncoder(9, 1)
	bad.Fd(-1)
	_, err = bad.Message()
	assert.Error(t, err)
}

func TestDecoderStickyError(t *testing.T) {
	d := NewDecoder([]byte{1, 0}, nil)
	assert.Equal(t, uint32(0), d.Uint())
	require.Error(t, d.Err())
	assert.Equal(t, "", d.String())
	assert.Nil(t, d.Array())
}

func TestDecoderRejectsUnterminatedString(t *testing.T) {
	body := make([]byte, 8)
	byteOrder.PutUint32(body, 4)
	copy(body[4:], "abcd")
	d := NewDecoder(body, nil)
	assert.Equal(t, "", d.String())
	assert.Error(t, d.Err())
}

func TestSplitStream(t *testing.T) {
	var stream []byte
	for i := uint32(1); i <= 2; i++ {
		e := NewEncoder(i, uint16(i))
		e.Uint(i * 10)
		msg, err := e.Message()
		require.NoError(t, err)
		stream = append(stream, msg.Data...)
	}

	// A partial header is not an error.
	_, _, _, ok, err := Split(stream[:5])
	require.NoError(t, err)
	assert.False(t, ok)

	// Nor is a partial body.
	_, _, _, ok, err = Split(stream[:10])
	require.NoError(t, err)
	assert.False(t, ok)

	h, body, n, ok, err := Split(stream)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), h.Object)
	assert.Equal(t, 12, n)
	assert.Equal(t, uint32(10), NewDecoder(body, nil).Uint())

	h, body, _, ok, err = Split(stream[n:])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint16(2), h.Opcode)
	assert.Equal(t, uint32(20), NewDecoder(body, nil).Uint())
}

func TestSplitRejectsBadSize(t *testing.T) {
	buf := make([]byte, 8)
	Header{Object: 1, Opcode: 0, Size: 6}.Put(buf)
	_, _, _, _, err := Split(buf)
	assert.Error(t, err)
}

func TestSplitRejectsOversizedMessage(t *testing.T) {
	buf := make([]byte, 8)
	Header{Object: 1, Opcode: 0, Size: MaxMessageSize + 4}.Put(buf)
	_, _, _, _, err := Split(buf)
	assert.Error(t, err)
}

func TestMessageTooLarge(t *testing.T) {
	// Header plus array length word leave room for MaxMessageSize-12 bytes.
	e := NewEncoder(1, 0)
	e.Array(make([]byte, MaxMessageSize-HeaderSize-4))
	msg, err := e.Message()
	require.NoError(t, err)
	assert.Len(t, msg.Data, MaxMessageSize)

	e = NewEncoder(1, 0)
	e.Array(make([]byte, MaxMessageSize-HeaderSize-3))
	_, err = e.Message()
	assert.Error(t, err)

	e = NewEncoder(1, 0)
	e.String(strings.Repeat("x", 5000))
	_, err = e.Message()
	assert.Error(t, err)
}

func TestFixedConversions(t *testing.T) {
	assert.Equal(t, Fixed(256), FixedFromInt(1))
	assert.Equal(t, -2, FixedFromFloat(-2.75).Int())
	assert.Equal(t, 0.25, Fixed(64).Float64())
}
