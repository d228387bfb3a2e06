// Package fake
// Author: momentics <momentics@gmail.com>
//
// Scripted in-process compositor for testing display clients. It speaks the
// wire protocol over one end of a socket pair and implements just enough of
// wl_display, wl_registry, wl_output, xdg_output and xdg_wm_base to drive a
// session through startup, hot-plug and teardown.

package fake

import (
	"sort"
	"sync"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/protocol"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// OutputInfo describes the metadata sent for a wl_output global.
type OutputInfo struct {
	X, Y                          int32
	PhysicalWidth, PhysicalHeight int32
	Make, Model                   string
	Transform                     int32
	Width, Height, Refresh        int32
	Scale                         int32
	Name, Description             string
	LogicalX, LogicalY            int32
	LogicalWidth, LogicalHeight   int32
}

// Bind records one wl_registry.bind request.
type Bind struct {
	Name    uint32
	ID      uint32
	Version uint32
}

// Request records one request the compositor did not interpret.
type Request struct {
	Interface string
	Object    uint32
	Opcode    uint16
}

type global struct {
	name    uint32
	iface   string
	version uint32
	output  *OutputInfo
}

type object struct {
	iface   string
	version uint32
	global  uint32
}

// Compositor serves one client connection.
type Compositor struct {
	mu       sync.Mutex
	fd       int
	clientFd int

	globals  map[uint32]*global
	order    []uint32
	objects  map[uint32]*object
	registry uint32
	serial   uint32

	binds    map[string][]Bind
	requests []Request
	pongs    chan uint32

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	err       error
}

// NewCompositor creates the socket pair and starts serving. The client end
// is returned by ClientFd and belongs to the caller.
func NewCompositor() (*Compositor, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socketpair")
	}
	c := &Compositor{
		fd:       fds[0],
		clientFd: fds[1],
		globals:  make(map[uint32]*global),
		objects:  map[uint32]*object{protocol.DisplayID: {iface: "wl_display", version: 1}},
		binds:    make(map[string][]Bind),
		pongs:    make(chan uint32, 16),
		done:     make(chan struct{}),
	}
	go c.serve()
	return c, nil
}

// ClientFd returns the client end of the connection.
func (c *Compositor) ClientFd() int {
	return c.clientFd
}

// AddGlobal announces a global. Globals added before the client asks for
// the registry are sent in insertion order when it does.
func (c *Compositor) AddGlobal(name uint32, iface string, version uint32) error {
	return c.addGlobal(&global{name: name, iface: iface, version: version})
}

// AddOutput announces a wl_output global (version 4) with the given
// metadata.
func (c *Compositor) AddOutput(name uint32, info OutputInfo) error {
	return c.addGlobal(&global{name: name, iface: "wl_output", version: 4, output: &info})
}

func (c *Compositor) addGlobal(g *global) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.globals[g.name]; dup {
		return errors.Wrapf(api.ErrAlreadyExists, "global %d", g.name)
	}
	c.globals[g.name] = g
	c.order = append(c.order, g.name)
	if c.registry == 0 {
		return nil
	}
	return c.sendGlobal(g)
}

// RemoveGlobal withdraws a global. The name is announced as removed even if
// it was never added, which lets tests exercise unknown ids.
func (c *Compositor) RemoveGlobal(name uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.globals[name]; ok {
		delete(c.globals, name)
		for i, n := range c.order {
			if n == name {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	if c.registry == 0 {
		return errors.New("client has no registry")
	}
	e := protocol.NewEncoder(c.registry, 1)
	e.Uint(name)
	return c.send(e)
}

// Ping sends xdg_wm_base.ping to the first bound wm base.
func (c *Compositor) Ping(serial uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.binds["xdg_wm_base"]
	if len(b) == 0 {
		return errors.Wrap(api.ErrNotFound, "xdg_wm_base not bound")
	}
	e := protocol.NewEncoder(b[0].ID, 0)
	e.Uint(serial)
	return c.send(e)
}

// PostError sends wl_display.error, which the client must treat as fatal.
func (c *Compositor) PostError(object, code uint32, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := protocol.NewEncoder(protocol.DisplayID, 0)
	e.Object(object)
	e.Uint(code)
	e.String(message)
	return c.send(e)
}

// Pongs delivers the serials of received xdg_wm_base.pong requests.
func (c *Compositor) Pongs() <-chan uint32 {
	return c.pongs
}

// Bound returns the binds received for iface, in arrival order.
func (c *Compositor) Bound(iface string) []Bind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Bind(nil), c.binds[iface]...)
}

// BoundInterfaces returns the sorted names of every bound interface.
func (c *Compositor) BoundInterfaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.binds))
	for iface := range c.binds {
		out = append(out, iface)
	}
	sort.Strings(out)
	return out
}

// Requests returns requests the compositor only recorded, such as
// destructors.
func (c *Compositor) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

// Err returns the error that stopped the serve loop, if any.
func (c *Compositor) Err() error {
	<-c.done
	return c.err
}

// Close hangs up on the client and waits for the serve loop to exit. The
// client end is not closed.
func (c *Compositor) Close() error {
	c.closeOnce.Do(func() {
		unix.Shutdown(c.fd, unix.SHUT_RDWR)
		<-c.done
		c.closeErr = unix.Close(c.fd)
	})
	return c.closeErr
}

func (c *Compositor) serve() {
	defer close(c.done)
	buf := make([]byte, 64*1024)
	n := 0
	for {
		r, err := unix.Read(c.fd, buf[n:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || r == 0 {
			return
		}
		n += r
		off := 0
		for {
			h, body, size, ok, err := protocol.Split(buf[off:n])
			if err != nil {
				c.err = err
				return
			}
			if !ok {
				break
			}
			off += size
			if err := c.handle(h, protocol.NewDecoder(body, nil)); err != nil {
				c.err = err
				return
			}
		}
		n = copy(buf, buf[off:n])
	}
}

func (c *Compositor) handle(h protocol.Header, args *protocol.Decoder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[h.Object]
	if !ok {
		return errors.Errorf("request for unknown object %d", h.Object)
	}
	switch {
	case obj.iface == "wl_display" && h.Opcode == 0:
		return c.sync(args.NewID())
	case obj.iface == "wl_display" && h.Opcode == 1:
		return c.getRegistry(args.NewID())
	case obj.iface == "wl_registry" && h.Opcode == 0:
		name, iface, version, id := args.Uint(), args.String(), args.Uint(), args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		return c.bind(name, iface, version, id)
	case obj.iface == "zxdg_output_manager_v1" && h.Opcode == 1:
		id, output := args.NewID(), args.Object()
		if err := args.Err(); err != nil {
			return err
		}
		return c.getXdgOutput(obj.version, id, output)
	case obj.iface == "xdg_wm_base" && h.Opcode == 3:
		serial := args.Uint()
		select {
		case c.pongs <- serial:
		default:
		}
		return args.Err()
	}
	c.requests = append(c.requests, Request{Interface: obj.iface, Object: h.Object, Opcode: h.Opcode})
	return nil
}

func (c *Compositor) sync(id uint32) error {
	c.serial++
	e := protocol.NewEncoder(id, 0)
	e.Uint(c.serial)
	if err := c.send(e); err != nil {
		return err
	}
	return c.deleteID(id)
}

func (c *Compositor) getRegistry(id uint32) error {
	c.objects[id] = &object{iface: "wl_registry", version: 1}
	c.registry = id
	for _, name := range c.order {
		if err := c.sendGlobal(c.globals[name]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compositor) bind(name uint32, iface string, version, id uint32) error {
	g, ok := c.globals[name]
	if !ok || g.iface != iface || version > g.version || version == 0 {
		return c.postError(c.registry, 0, "invalid bind")
	}
	c.objects[id] = &object{iface: iface, version: version, global: name}
	c.binds[iface] = append(c.binds[iface], Bind{Name: name, ID: id, Version: version})
	switch iface {
	case "wl_output":
		return c.sendOutput(id, version, g.output)
	case "wl_shm":
		// argb8888 and xrgb8888 are mandatory.
		for _, format := range []uint32{0, 1} {
			e := protocol.NewEncoder(id, 0)
			e.Uint(format)
			if err := c.send(e); err != nil {
				return err
			}
		}
	case "wl_seat":
		e := protocol.NewEncoder(id, 0)
		e.Uint(3) // pointer | keyboard
		if err := c.send(e); err != nil {
			return err
		}
		if version >= 2 {
			e = protocol.NewEncoder(id, 1)
			e.String("seat0")
			return c.send(e)
		}
	}
	return nil
}

func (c *Compositor) sendOutput(id, version uint32, info *OutputInfo) error {
	if info == nil {
		info = &OutputInfo{}
	}
	var msgs []*protocol.Encoder
	e := protocol.NewEncoder(id, 0)
	e.Int(info.X)
	e.Int(info.Y)
	e.Int(info.PhysicalWidth)
	e.Int(info.PhysicalHeight)
	e.Int(0)
	e.String(info.Make)
	e.String(info.Model)
	e.Int(info.Transform)
	msgs = append(msgs, e)

	e = protocol.NewEncoder(id, 1)
	e.Uint(3) // current | preferred
	e.Int(info.Width)
	e.Int(info.Height)
	e.Int(info.Refresh)
	msgs = append(msgs, e)

	if version >= 2 {
		e = protocol.NewEncoder(id, 3)
		e.Int(info.Scale)
		msgs = append(msgs, e)
	}
	if version >= 4 {
		e = protocol.NewEncoder(id, 4)
		e.String(info.Name)
		msgs = append(msgs, e)
		e = protocol.NewEncoder(id, 5)
		e.String(info.Description)
		msgs = append(msgs, e)
	}
	if version >= 2 {
		msgs = append(msgs, protocol.NewEncoder(id, 2))
	}
	for _, m := range msgs {
		if err := c.send(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compositor) getXdgOutput(version, id, output uint32) error {
	obj, ok := c.objects[output]
	if !ok || obj.iface != "wl_output" {
		return c.postError(protocol.DisplayID, 0, "get_xdg_output on a non-output object")
	}
	c.objects[id] = &object{iface: "zxdg_output_v1", version: version}
	info := &OutputInfo{}
	if g, ok := c.globals[obj.global]; ok && g.output != nil {
		info = g.output
	}

	e := protocol.NewEncoder(id, 0)
	e.Int(info.LogicalX)
	e.Int(info.LogicalY)
	if err := c.send(e); err != nil {
		return err
	}
	e = protocol.NewEncoder(id, 1)
	e.Int(info.LogicalWidth)
	e.Int(info.LogicalHeight)
	if err := c.send(e); err != nil {
		return err
	}
	if version >= 2 {
		e = protocol.NewEncoder(id, 3)
		e.String(info.Name)
		if err := c.send(e); err != nil {
			return err
		}
		e = protocol.NewEncoder(id, 4)
		e.String(info.Description)
		if err := c.send(e); err != nil {
			return err
		}
	}
	return c.send(protocol.NewEncoder(id, 2))
}

func (c *Compositor) sendGlobal(g *global) error {
	e := protocol.NewEncoder(c.registry, 0)
	e.Uint(g.name)
	e.String(g.iface)
	e.Uint(g.version)
	return c.send(e)
}

func (c *Compositor) deleteID(id uint32) error {
	delete(c.objects, id)
	e := protocol.NewEncoder(protocol.DisplayID, 1)
	e.Uint(id)
	return c.send(e)
}

func (c *Compositor) postError(object, code uint32, message string) error {
	e := protocol.NewEncoder(protocol.DisplayID, 0)
	e.Object(object)
	e.Uint(code)
	e.String(message)
	if err := c.send(e); err != nil {
		return err
	}
	return errors.Errorf("posted error on object %d: %s", object, message)
}

// send writes one event. The caller holds mu.
func (c *Compositor) send(e *protocol.Encoder) error {
	msg, err := e.Message()
	if err != nil {
		return err
	}
	defer msg.Release()
	data := msg.Data
	for len(data) > 0 {
		n, err := unix.Write(c.fd, data)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "write event")
		}
		data = data[n:]
	}
	return nil
}
