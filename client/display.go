// File: client/display.go
// Package client implements the client side of a Wayland display connection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Display owns one connected stream socket in non-blocking mode.
// Requests are encoded into an outgoing queue and written by Flush; events
// are read into a buffer and routed to the Proxy they address by Dispatch
// and DispatchPending. Only Dispatch and Roundtrip wait, in poll(2).
// A Display is not safe for concurrent use.

package client

import (
	"fmt"
	"io"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/protocol"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	readBufferSize = 64 * 1024
	// Enough control space for the 28 descriptors libwayland allows per
	// message batch.
	oobBufferSize = 28 * 4 * 4

	displayOpSync        = 0
	displayOpGetRegistry = 1

	displayEvError    = 0
	displayEvDeleteID = 1

	callbackEvDone = 0
)

// ProtocolError is a fatal error reported by the compositor through
// wl_display.error. The connection is unusable afterwards.
type ProtocolError struct {
	ObjectID  uint32
	Interface string
	Code      uint32
	Message   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d on %s@%d: %s", e.Code, e.Interface, e.ObjectID, e.Message)
}

// fdQueue holds descriptors received with SCM_RIGHTS until a decoder
// claims them.
type fdQueue struct {
	q *queue.Queue
}

func (f fdQueue) NextFd() (int, bool) {
	if f.q.Length() == 0 {
		return -1, false
	}
	return f.q.Remove().(int), true
}

// Display is the root object of a connection.
type Display struct {
	*Proxy

	fd      int
	objects map[uint32]*Proxy
	nextID  uint32

	out *queue.Queue // *protocol.Message

	in    []byte
	inLen int
	oob   []byte
	fds   fdQueue

	err    error
	closed bool
}

// NewDisplay wraps a connected stream socket and makes it non-blocking.
// The Display takes ownership of fd.
func NewDisplay(fd int) *Display {
	d := &Display{
		fd:      fd,
		objects: make(map[uint32]*Proxy),
		nextID:  protocol.DisplayID + 1,
		out:     queue.New(),
		in:      make([]byte, readBufferSize),
		oob:     make([]byte, unix.CmsgSpace(oobBufferSize)),
		fds:     fdQueue{q: queue.New()},
	}
	d.Proxy = &Proxy{id: protocol.DisplayID, iface: "wl_display", version: 1, display: d}
	d.Proxy.handler = d.handleEvent
	d.objects[protocol.DisplayID] = d.Proxy
	if err := unix.SetNonblock(fd, true); err != nil {
		d.err = errors.Wrap(err, "set non-blocking")
	}
	return d
}

// Fd returns the socket descriptor, for registration with a poller.
func (d *Display) Fd() int {
	return d.fd
}

// Err returns the error that made the connection unusable, if any.
func (d *Display) Err() error {
	return d.err
}

// Pending returns the number of requests waiting for Flush.
func (d *Display) Pending() int {
	return d.out.Length()
}

// NewProxy allocates a client-side object id for iface. The caller must
// send the request that creates the object on the server.
func (d *Display) NewProxy(iface string, version uint32) *Proxy {
	p := &Proxy{id: d.nextID, iface: iface, version: version, display: d}
	d.nextID++
	d.objects[p.id] = p
	return p
}

// Lookup returns the live object with the given id.
func (d *Display) Lookup(id uint32) (*Proxy, bool) {
	p, ok := d.objects[id]
	return p, ok
}

// GetRegistry creates the registry and installs l as its listener.
func (d *Display) GetRegistry(l RegistryListener) (*Registry, error) {
	if l == nil {
		return nil, errors.Wrap(api.ErrInvalidArgument, "nil registry listener")
	}
	p := d.NewProxy("wl_registry", 1)
	r := &Registry{Proxy: p, listener: l}
	p.handler = r.handleEvent
	if err := d.Request(displayOpGetRegistry, p); err != nil {
		d.forget(p)
		return nil, err
	}
	return r, nil
}

// Sync asks the compositor for a wl_callback that fires once every request
// sent before it has been processed. done runs from dispatch.
func (d *Display) Sync(done func(data uint32)) (*Proxy, error) {
	cb := d.NewProxy("wl_callback", 1)
	cb.handler = func(opcode uint16, args *protocol.Decoder) error {
		if opcode != callbackEvDone {
			return nil
		}
		data := args.Uint()
		if err := args.Err(); err != nil {
			return err
		}
		cb.destroyed = true
		if done != nil {
			done(data)
		}
		return nil
	}
	if err := d.Request(displayOpSync, cb); err != nil {
		d.forget(cb)
		return nil, err
	}
	return cb, nil
}

// Roundtrip flushes queued requests and dispatches events until the
// compositor has answered all of them. It blocks.
func (d *Display) Roundtrip() error {
	done := false
	if _, err := d.Sync(func(uint32) { done = true }); err != nil {
		return err
	}
	for !done {
		if err := d.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch dispatches buffered events. When none are buffered it flushes,
// waits until the socket is readable, reads once and dispatches what
// arrived.
func (d *Display) Dispatch() error {
	n, err := d.DispatchPending()
	if err != nil || n > 0 {
		return err
	}
	if err := d.wait(); err != nil {
		return err
	}
	if err := d.readEvents(); err != nil {
		return err
	}
	_, err = d.DispatchPending()
	return err
}

// DispatchPending routes every complete buffered event without reading the
// socket and returns the number of events handled.
func (d *Display) DispatchPending() (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	off, count := 0, 0
	defer func() {
		d.inLen = copy(d.in, d.in[off:d.inLen])
	}()
	for {
		h, body, n, ok, err := protocol.Split(d.in[off:d.inLen])
		if err != nil {
			return count, d.fail(errors.Wrap(err, "malformed event stream"))
		}
		if !ok {
			return count, nil
		}
		off += n
		count++
		if err := d.dispatch(h, body); err != nil {
			return count, err
		}
	}
}

func (d *Display) dispatch(h protocol.Header, body []byte) error {
	p, ok := d.objects[h.Object]
	if !ok || p.destroyed || p.handler == nil {
		return nil
	}
	if err := p.handler(h.Opcode, protocol.NewDecoder(body, d.fds)); err != nil {
		return errors.Wrapf(err, "%s@%d event %d", p.iface, p.id, h.Opcode)
	}
	return nil
}

func (d *Display) handleEvent(opcode uint16, args *protocol.Decoder) error {
	switch opcode {
	case displayEvError:
		obj, code, msg := args.Object(), args.Uint(), args.String()
		if err := args.Err(); err != nil {
			return err
		}
		perr := &ProtocolError{ObjectID: obj, Code: code, Message: msg, Interface: "unknown"}
		if p, ok := d.objects[obj]; ok {
			perr.Interface = p.iface
		}
		return d.fail(perr)
	case displayEvDeleteID:
		id := args.Uint()
		if err := args.Err(); err != nil {
			return err
		}
		delete(d.objects, id)
	}
	return nil
}

// wait blocks until the socket is readable or hung up. Queued requests are
// written whenever the socket accepts them, so a Sync still reaches a
// compositor that was slow to drain.
func (d *Display) wait() error {
	for {
		if err := d.Flush(); err != nil {
			return err
		}
		events := int16(unix.POLLIN)
		if d.out.Length() > 0 {
			events |= unix.POLLOUT
		}
		fds := []unix.PollFd{{Fd: int32(d.fd), Events: events}}
		_, err := unix.Poll(fds, -1)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return d.fail(errors.Wrap(err, "poll"))
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return nil
		}
	}
}

func (d *Display) readEvents() error {
	if d.err != nil {
		return d.err
	}
	if d.inLen == len(d.in) {
		return d.fail(errors.New("event buffer full"))
	}
	for {
		n, oobn, _, _, err := unix.Recvmsg(d.fd, d.in[d.inLen:], d.oob, unix.MSG_CMSG_CLOEXEC)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil
		case err != nil:
			return d.fail(errors.Wrap(err, "read events"))
		}
		if oobn > 0 {
			if err := d.collectFds(d.oob[:oobn]); err != nil {
				return d.fail(err)
			}
		}
		if n == 0 {
			return d.fail(errors.Wrap(io.EOF, "compositor closed the connection"))
		}
		d.inLen += n
		return nil
	}
}

func (d *Display) collectFds(oob []byte) error {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return errors.Wrap(err, "parse control message")
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			d.fds.q.Add(fd)
		}
	}
	return nil
}

// Flush writes queued requests without blocking. It stops early when the
// socket buffer is full; the rest stays queued for the next Flush.
func (d *Display) Flush() error {
	if d.err != nil {
		return d.err
	}
	for d.out.Length() > 0 {
		msg := d.out.Peek().(*protocol.Message)
		var oob []byte
		if len(msg.Fds) > 0 {
			oob = unix.UnixRights(msg.Fds...)
		}
		n, err := unix.SendmsgN(d.fd, msg.Data, oob, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil
		case err != nil:
			return d.fail(errors.Wrap(err, "flush requests"))
		}
		if n < len(msg.Data) {
			// Descriptors went out with the first chunk.
			msg.Data = msg.Data[n:]
			msg.Fds = nil
			continue
		}
		d.out.Remove()
		msg.Release()
	}
	return nil
}

// Close releases the socket and any received descriptors nobody claimed.
func (d *Display) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.err == nil {
		d.err = errors.Wrap(api.ErrClosed, "display")
	}
	for d.fds.q.Length() > 0 {
		unix.Close(d.fds.q.Remove().(int))
	}
	return unix.Close(d.fd)
}

func (d *Display) enqueue(msg *protocol.Message) error {
	if d.err != nil {
		return d.err
	}
	d.out.Add(msg)
	return nil
}

func (d *Display) forget(p *Proxy) {
	p.destroyed = true
	delete(d.objects, p.id)
}

func (d *Display) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	return err
}
