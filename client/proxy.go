// File: client/proxy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/protocol"
	"github.com/pkg/errors"
)

// EventHandler receives the events addressed to one object. Arguments are
// read from args in the order the interface declares them.
type EventHandler func(opcode uint16, args *protocol.Decoder) error

// Fd marks a request argument as a file descriptor to pass with the
// message.
type Fd int

// Proxy is the client side of one protocol object.
type Proxy struct {
	id        uint32
	iface     string
	version   uint32
	display   *Display
	handler   EventHandler
	destroyed bool
}

// ID returns the object id.
func (p *Proxy) ID() uint32 { return p.id }

// Interface returns the interface name the object was created with.
func (p *Proxy) Interface() string { return p.iface }

// Version returns the negotiated interface version.
func (p *Proxy) Version() uint32 { return p.version }

// Destroyed reports whether the object was destroyed on the client side.
func (p *Proxy) Destroyed() bool { return p.destroyed }

// SetHandler installs the event handler, replacing any previous one.
func (p *Proxy) SetHandler(h EventHandler) {
	p.handler = h
}

// Request encodes a request and queues it for Flush. Supported argument
// types are uint32, int32, protocol.Fixed, string, []byte, *Proxy (object
// or new_id, nil for the null object) and Fd.
func (p *Proxy) Request(opcode uint16, args ...any) error {
	if p.destroyed {
		return errors.Wrapf(api.ErrClosed, "request %d on destroyed %s@%d", opcode, p.iface, p.id)
	}
	e := protocol.NewEncoder(p.id, opcode)
	for i, arg := range args {
		switch v := arg.(type) {
		case uint32:
			e.Uint(v)
		case int32:
			e.Int(v)
		case protocol.Fixed:
			e.Fixed(v)
		case string:
			e.String(v)
		case []byte:
			e.Array(v)
		case *Proxy:
			if v == nil {
				e.Object(0)
			} else {
				e.Object(v.id)
			}
		case Fd:
			e.Fd(int(v))
		default:
			return errors.Wrapf(api.ErrInvalidArgument, "%s@%d request %d: argument %d has unsupported type %T",
				p.iface, p.id, opcode, i, arg)
		}
	}
	msg, err := e.Message()
	if err != nil {
		return err
	}
	return p.display.enqueue(msg)
}

// Destroy sends the destructor request with the given opcode and marks the
// proxy dead. Events still in flight for it are dropped; the id is released
// when the compositor acknowledges with delete_id.
func (p *Proxy) Destroy(opcode uint16) error {
	if p.destroyed {
		return nil
	}
	err := p.Request(opcode)
	p.destroyed = true
	return err
}

// Forget marks the proxy dead without telling the compositor, for
// interfaces that have no destructor request.
func (p *Proxy) Forget() {
	p.destroyed = true
}
