// File: protocol/wire.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message header codec and stream splitting.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the fixed size of a message header in bytes.
	HeaderSize = 8
	// MaxMessageSize is the largest message a compositor accepts. Larger
	// ones make it drop the client.
	MaxMessageSize = 4096
	// DisplayID is the object id of wl_display, fixed by the protocol.
	DisplayID uint32 = 1
)

var byteOrder = binary.NativeEndian

// Header is the fixed prefix of every message.
type Header struct {
	Object uint32
	Opcode uint16
	Size   uint16 // whole message, header included
}

func (h Header) String() string {
	return fmt.Sprintf("object=%d opcode=%d size=%d", h.Object, h.Opcode, h.Size)
}

// ParseHeader decodes a header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Errorf("header too short: %d bytes", len(b))
	}
	word := byteOrder.Uint32(b[4:8])
	h := Header{
		Object: byteOrder.Uint32(b[0:4]),
		Opcode: uint16(word & 0xFFFF),
		Size:   uint16(word >> 16),
	}
	if h.Size < HeaderSize || h.Size%4 != 0 || h.Size > MaxMessageSize {
		return h, errors.Errorf("invalid message size %d (%s)", h.Size, h)
	}
	return h, nil
}

// Put writes the header into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	byteOrder.PutUint32(b[0:4], h.Object)
	byteOrder.PutUint32(b[4:8], uint32(h.Size)<<16|uint32(h.Opcode))
}

// Message is one encoded message with the descriptors that travel with it.
type Message struct {
	Header Header
	Data   []byte // header and arguments
	Fds    []int
}

// Body returns the argument bytes.
func (m *Message) Body() []byte {
	return m.Data[HeaderSize:]
}

// Release recycles the message buffer once it has been written. The
// message must not be used afterwards.
func (m *Message) Release() {
	if m.Data == nil {
		return
	}
	bufferPool.Put(m.Data[:0])
	m.Data = nil
	m.Fds = nil
}

// Split extracts the first complete message from buf. ok is false when buf
// holds only part of a message; n is the number of bytes consumed.
func Split(buf []byte) (h Header, body []byte, n int, ok bool, err error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, 0, false, nil
	}
	h, err = ParseHeader(buf)
	if err != nil {
		return h, nil, 0, false, err
	}
	size := int(h.Size)
	if len(buf) < size {
		return h, nil, 0, false, nil
	}
	return h, buf[HeaderSize:size], size, true, nil
}
