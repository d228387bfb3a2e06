// File: protocol/decoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"github.com/pkg/errors"
)

// FdSource hands out descriptors received alongside the byte stream, in
// arrival order.
type FdSource interface {
	NextFd() (int, bool)
}

// Decoder reads the arguments of one message. After the first failure every
// read returns a zero value and Err reports the failure.
type Decoder struct {
	body []byte
	off  int
	fds  FdSource
	err  error
}

// NewDecoder reads arguments from body; fds may be nil for messages
// without descriptor arguments.
func NewDecoder(body []byte, fds FdSource) *Decoder {
	return &Decoder{body: body, fds: fds}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error {
	return d.err
}

// Remaining returns the number of unread body bytes.
func (d *Decoder) Remaining() int {
	return len(d.body) - d.off
}

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) word() uint32 {
	if d.err != nil {
		return 0
	}
	if d.Remaining() < 4 {
		d.fail(errors.Errorf("argument truncated at offset %d", d.off))
		return 0
	}
	v := byteOrder.Uint32(d.body[d.off:])
	d.off += 4
	return v
}

func (d *Decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	padded := (n + 3) &^ 3
	if n < 0 || d.Remaining() < padded {
		d.fail(errors.Errorf("payload of %d bytes truncated at offset %d", n, d.off))
		return nil
	}
	b := d.body[d.off : d.off+n]
	d.off += padded
	return b
}

// Uint reads an unsigned 32-bit argument.
func (d *Decoder) Uint() uint32 {
	return d.word()
}

// Int reads a signed 32-bit argument.
func (d *Decoder) Int() int32 {
	return int32(d.word())
}

// Fixed reads a 24.8 fixed-point argument.
func (d *Decoder) Fixed() Fixed {
	return Fixed(d.word())
}

// Object reads an object id; 0 is the null object.
func (d *Decoder) Object() uint32 {
	return d.word()
}

// NewID reads the id of a server-created object.
func (d *Decoder) NewID() uint32 {
	return d.word()
}

// String reads a string argument. A zero length encodes the null string,
// returned as "".
func (d *Decoder) String() string {
	n := int(d.word())
	if n == 0 || d.err != nil {
		return ""
	}
	b := d.bytes(n)
	if b == nil {
		return ""
	}
	if b[n-1] != 0 {
		d.fail(errors.New("string argument is not NUL-terminated"))
		return ""
	}
	return string(b[:n-1])
}

// Array reads a byte array argument. The result is a copy.
func (d *Decoder) Array() []byte {
	n := int(d.word())
	b := d.bytes(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Fd takes the next descriptor from the source.
func (d *Decoder) Fd() int {
	if d.err != nil {
		return -1
	}
	if d.fds == nil {
		d.fail(errors.New("fd argument without descriptor source"))
		return -1
	}
	fd, ok := d.fds.NextFd()
	if !ok {
		d.fail(errors.New("fd argument but no descriptor received"))
		return -1
	}
	return fd
}
