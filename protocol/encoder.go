// File: protocol/encoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-wl/pool"
)

// Buffers larger than this are left to the garbage collector.
const maxPooledBuffer = MaxMessageSize

var bufferPool = pool.NewSyncPool(func() []byte {
	return make([]byte, 0, 128)
}).WithReset(func(b []byte) bool {
	return cap(b) >= HeaderSize && cap(b) <= maxPooledBuffer
})

// Encoder builds one message. Errors are sticky and reported by Message.
type Encoder struct {
	object uint32
	opcode uint16
	buf    []byte
	fds    []int
	err    error
}

// NewEncoder starts a message for opcode on object.
func NewEncoder(object uint32, opcode uint16) *Encoder {
	return &Encoder{
		object: object,
		opcode: opcode,
		buf:    bufferPool.Get()[:HeaderSize],
	}
}

func (e *Encoder) word(v uint32) {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) pad() {
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
}

// Uint appends an unsigned 32-bit argument.
func (e *Encoder) Uint(v uint32) {
	e.word(v)
}

// Int appends a signed 32-bit argument.
func (e *Encoder) Int(v int32) {
	e.word(uint32(v))
}

// Fixed appends a 24.8 fixed-point argument.
func (e *Encoder) Fixed(v Fixed) {
	e.word(uint32(v))
}

// Object appends an object reference; 0 is the null object.
func (e *Encoder) Object(id uint32) {
	e.word(id)
}

// NewID appends the id of an object created by this request.
func (e *Encoder) NewID(id uint32) {
	e.word(id)
}

// String appends a NUL-terminated, length-prefixed string.
func (e *Encoder) String(s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			e.fail(errors.Errorf("string argument contains NUL at %d", i))
			return
		}
	}
	e.word(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	e.pad()
}

// Array appends a length-prefixed byte array.
func (e *Encoder) Array(b []byte) {
	e.word(uint32(len(b)))
	e.buf = append(e.buf, b...)
	e.pad()
}

// Fd attaches a descriptor to the message; it adds nothing to the body.
func (e *Encoder) Fd(fd int) {
	if fd < 0 {
		e.fail(errors.Errorf("invalid file descriptor %d", fd))
		return
	}
	e.fds = append(e.fds, fd)
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// Message finalizes the header and returns the encoded message.
func (e *Encoder) Message() (*Message, error) {
	if e.err != nil {
		return nil, errors.Wrapf(e.err, "encode object %d opcode %d", e.object, e.opcode)
	}
	if len(e.buf) > MaxMessageSize {
		return nil, errors.Errorf("message too large: %d bytes (object %d opcode %d)", len(e.buf), e.object, e.opcode)
	}
	h := Header{Object: e.object, Opcode: e.opcode, Size: uint16(len(e.buf))}
	h.Put(e.buf)
	return &Message{Header: h, Data: e.buf, Fds: e.fds}, nil
}
