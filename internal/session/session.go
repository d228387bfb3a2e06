// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Display session: connection bootstrap, registry tracking, capability
// binding and output bookkeeping.

package session

import (
	"log"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/client"
	"github.com/momentics/hioload-wl/control"
	"github.com/momentics/hioload-wl/pool"
	"github.com/momentics/hioload-wl/protocol"
	"github.com/pkg/errors"
)

const (
	shmEvFormat  = 0
	seatEvCaps   = 0
	seatEvName   = 1
	wmBaseEvPing = 0
	wmBaseOpPong = 3
)

// Registrar is the part of the event multiplexer the session needs.
type Registrar interface {
	Register(h api.Handler) (pool.Handle, error)
	Unregister(h pool.Handle) error
}

// DialFunc opens the display connection.
type DialFunc func(name string) (*client.Display, error)

// Options configure a Session.
type Options struct {
	// Display names the socket; empty uses the environment.
	Display string
	// Required lists interfaces that must be bound after the first
	// round-trip. wl_compositor is always required on top of these.
	Required []string
	// Versions overrides the pinned version of an interface.
	Versions map[string]uint32
	Debug    bool
	// Dial defaults to client.Connect.
	Dial    DialFunc
	Metrics *control.MetricsRegistry
	Probes  *control.DebugProbes
}

// OptionsFromConfig copies the session fields of cfg.
func OptionsFromConfig(cfg *control.Config) Options {
	return Options{
		Display:  cfg.Display,
		Required: cfg.Required,
		Versions: cfg.Versions,
		Debug:    cfg.Debug,
	}
}

// Target is the size and scale the mirror renders at.
type Target struct {
	Width, Height uint32
	Scale         float64
}

// Flags are the session's lifecycle flags.
type Flags struct {
	SurfaceConfigured  bool
	ToplevelConfigured bool
	Configured         bool
	Closing            bool
	Initialized        bool
}

// Session owns one display connection. It is driven from a single
// goroutine: the one running the multiplexer it is registered with.
type Session struct {
	opts Options

	display  *client.Display
	registry *client.Registry
	bound    [capabilityCount]Binding

	outputs *pool.Arena[*Output]
	current pool.Handle

	Target            Target
	Flags             Flags
	LastSurfaceSerial uint32

	shmFormats []uint32
	seatCaps   uint32
	seatName   string

	conn      *connectionHandler
	registrar Registrar
	handle    pool.Handle
}

var _ api.GracefulShutdown = (*Session)(nil)

// New creates an uninitialized session.
func New(opts Options) *Session {
	if opts.Dial == nil {
		opts.Dial = client.Connect
	}
	s := &Session{opts: opts}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.display = nil
	s.registry = nil
	s.bound = [capabilityCount]Binding{}
	s.outputs = pool.NewArena[*Output](4)
	s.current = pool.Handle{}
	s.Target = Target{Scale: 1.0}
	s.Flags = Flags{}
	s.LastSurfaceSerial = 0
	s.shmFormats = nil
	s.seatCaps = 0
	s.seatName = ""
	s.conn = &connectionHandler{s: s}
	s.registrar = nil
	s.handle = pool.Handle{}
}

// Init connects, registers the connection with r, collects the globals and
// checks that every required capability was bound. All failures are fatal
// *api.Error values.
func (s *Session) Init(r Registrar) error {
	if s.Flags.Initialized {
		return api.NewError(api.ErrCodeInvalidArgument, "session already initialized")
	}
	s.reset()
	s.Flags.Initialized = true

	d, err := s.opts.Dial(s.opts.Display)
	if err != nil {
		return api.NewError(api.ErrCodeConnect, "failed to connect to wayland").
			WithContext("display", s.opts.Display).WithCause(err)
	}
	s.display = d

	h, err := r.Register(s.conn)
	if err != nil {
		if api.IsFatal(err) {
			return err
		}
		return api.NewError(api.ErrCodeRegistration, "failed to register connection handler").WithCause(err)
	}
	s.registrar, s.handle = r, h

	reg, err := d.GetRegistry((*registryListener)(s))
	if err != nil {
		return api.NewError(api.ErrCodeRegistry, "failed to get registry handle").WithCause(err)
	}
	s.registry = reg

	if err := s.roundtrip("initial"); err != nil {
		return err
	}
	for _, iface := range s.required() {
		if !s.hasInterface(iface) {
			return api.NewError(api.ErrCodeMissingGlobal, label(iface)+" missing").
				WithContext("interface", iface)
		}
	}
	// Binds and output metadata requests are still queued.
	if err := s.roundtrip("settle"); err != nil {
		return err
	}

	s.registerProbes()
	s.debugf("session initialized: %d outputs", s.outputs.Len())
	return nil
}

// required returns the compositor followed by every extra interface the
// caller asked for.
func (s *Session) required() []string {
	ifaces := []string{capabilities[Compositor].iface}
	for _, iface := range s.opts.Required {
		if iface != ifaces[0] {
			ifaces = append(ifaces, iface)
		}
	}
	return ifaces
}

func (s *Session) roundtrip(stage string) error {
	err := s.display.Roundtrip()
	if err == nil || api.IsFatal(err) {
		return err
	}
	return api.NewError(api.ErrCodeRegistry, stage+" roundtrip failed").WithCause(err)
}

func (s *Session) hasInterface(iface string) bool {
	if c, ok := CapabilityByInterface(iface); ok {
		return s.bound[c].Bound()
	}
	if iface == outputInterface {
		return s.outputs.Len() > 0
	}
	return false
}

func label(iface string) string {
	if c, ok := CapabilityByInterface(iface); ok {
		return c.String()
	}
	return iface
}

func (s *Session) version(iface string, def, advertised uint32) uint32 {
	v := def
	if pin, ok := s.opts.Versions[iface]; ok && pin > 0 {
		v = pin
	}
	return min(v, advertised)
}

// registryListener receives registry events on behalf of the session.
type registryListener Session

func (l *registryListener) Global(name uint32, iface string, version uint32) error {
	s := (*Session)(l)
	s.opts.Metrics.Add("session.globals_added", 1)
	s.debugf("on_registry_add(): %s (version = %d, id = %d)", iface, version, name)
	if name == 0 {
		return api.NewError(api.ErrCodeRegistry, "global "+iface+" announced with id 0").
			WithContext("interface", iface)
	}

	if iface == outputInterface {
		return s.addOutput(name, version)
	}
	c, ok := CapabilityByInterface(iface)
	if !ok {
		return nil
	}
	b := &s.bound[c]
	if b.Bound() {
		return api.NewError(api.ErrCodeDuplicateGlobal, "duplicate "+c.String()).
			WithContext("interface", iface).WithContext("id", name)
	}
	p, err := s.registry.Bind(name, iface, s.version(iface, capabilities[c].version, version))
	if err != nil {
		return api.NewError(api.ErrCodeInternal, "failed to bind "+c.String()).WithCause(err)
	}
	b.Proxy, b.Name = p, name
	s.attach(c, p)
	if c == OutputManager {
		var err error
		s.outputs.Each(func(_ pool.Handle, o *Output) bool {
			if o.XdgOutput == nil {
				err = s.createXdgOutput(o)
			}
			return err == nil
		})
		return err
	}
	return nil
}

func (l *registryListener) GlobalRemove(name uint32) error {
	s := (*Session)(l)
	s.opts.Metrics.Add("session.globals_removed", 1)
	s.debugf("on_registry_remove(): id = %d", name)
	if name == 0 {
		return nil
	}
	for c := Capability(0); c < capabilityCount; c++ {
		b := &s.bound[c]
		if b.Name != name {
			continue
		}
		if c.FatalOnRemove() {
			return api.NewError(api.ErrCodeGlobalRemoved, c.String()+" disappeared").
				WithContext("id", name)
		}
		log.Printf("[session] warning: %s disappeared, releasing it", c)
		b.release(c)
		return nil
	}
	var gone *Output
	s.outputs.Each(func(_ pool.Handle, o *Output) bool {
		if o.ID == name {
			gone = o
			return false
		}
		return true
	})
	if gone != nil {
		s.removeOutput(gone)
	}
	return nil
}

func (s *Session) attach(c Capability, p *client.Proxy) {
	switch c {
	case Shm:
		p.SetHandler(func(opcode uint16, args *protocol.Decoder) error {
			if opcode == shmEvFormat {
				format := args.Uint()
				if err := args.Err(); err != nil {
					return err
				}
				s.shmFormats = append(s.shmFormats, format)
			}
			return nil
		})
	case Seat:
		p.SetHandler(func(opcode uint16, args *protocol.Decoder) error {
			switch opcode {
			case seatEvCaps:
				s.seatCaps = args.Uint()
			case seatEvName:
				s.seatName = args.String()
			}
			return args.Err()
		})
	case WmBase:
		p.SetHandler(func(opcode uint16, args *protocol.Decoder) error {
			if opcode != wmBaseEvPing {
				return nil
			}
			serial := args.Uint()
			if err := args.Err(); err != nil {
				return err
			}
			s.debugf("xdg_wm_base ping %d", serial)
			return p.Request(wmBaseOpPong, serial)
		})
	}
}

func (s *Session) addOutput(name, version uint32) error {
	p, err := s.registry.Bind(name, outputInterface, s.version(outputInterface, outputVersion, version))
	if err != nil {
		return api.NewError(api.ErrCodeInternal, "failed to bind output").WithCause(err)
	}
	o := &Output{ID: name, Proxy: p, Scale: 1, session: s}
	o.handle = s.outputs.Insert(o)
	p.SetHandler(o.handleEvent)
	s.opts.Metrics.Set("session.outputs", int64(s.outputs.Len()))
	if s.bound[OutputManager].Bound() {
		return s.createXdgOutput(o)
	}
	return nil
}

func (s *Session) createXdgOutput(o *Output) error {
	mgr := s.bound[OutputManager].Proxy
	x := s.display.NewProxy("zxdg_output_v1", mgr.Version())
	x.SetHandler(o.handleXdgEvent)
	if err := mgr.Request(xdgManagerOpGetXdg, x, o.Proxy); err != nil {
		x.Forget()
		return api.NewError(api.ErrCodeInternal, "failed to create xdg output").WithCause(err)
	}
	o.XdgOutput = x
	return nil
}

func (s *Session) removeOutput(o *Output) {
	s.debugf("output %s removed", o)
	s.outputs.Remove(o.handle)
	if s.current == o.handle {
		s.current = pool.Handle{}
	}
	o.release()
	s.opts.Metrics.Set("session.outputs", int64(s.outputs.Len()))
}

func (s *Session) outputChanged(o *Output) {
	if s.current == o.handle {
		s.applyTarget(o)
	}
}

func (s *Session) applyTarget(o *Output) {
	s.Target.Width = uint32(max(o.Width, 0))
	s.Target.Height = uint32(max(o.Height, 0))
	s.Target.Scale = float64(max(o.Scale, 1))
}

// SelectOutput makes the output with the given name current and derives
// the target size and scale from it.
func (s *Session) SelectOutput(name string) error {
	var found *Output
	s.outputs.Each(func(_ pool.Handle, o *Output) bool {
		if o.Name == name {
			found = o
			return false
		}
		return true
	})
	if found == nil {
		return errors.Wrapf(api.ErrNotFound, "output %q", name)
	}
	s.current = found.handle
	s.applyTarget(found)
	return nil
}

// CurrentOutput returns the selected output, or nil.
func (s *Session) CurrentOutput() *Output {
	o, _ := s.outputs.Get(s.current)
	return o
}

// Output returns the output behind h.
func (s *Session) Output(h pool.Handle) (*Output, bool) {
	return s.outputs.Get(h)
}

// Outputs returns the live outputs in announcement order.
func (s *Session) Outputs() []*Output {
	out := make([]*Output, 0, s.outputs.Len())
	s.outputs.Each(func(_ pool.Handle, o *Output) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Capability returns the binding of c.
func (s *Session) Capability(c Capability) Binding {
	if c < 0 || c >= capabilityCount {
		return Binding{}
	}
	return s.bound[c]
}

// Display returns the connection, nil before Init.
func (s *Session) Display() *client.Display {
	return s.display
}

// Handler returns the multiplexer handler for the connection.
func (s *Session) Handler() api.Handler {
	return s.conn
}

// Closing reports whether the connection is shutting down. It is the
// natural done predicate for the multiplexer's Run.
func (s *Session) Closing() bool {
	return s.Flags.Closing
}

// ShmFormats returns the pixel formats wl_shm advertised.
func (s *Session) ShmFormats() []uint32 {
	return append([]uint32(nil), s.shmFormats...)
}

// SeatCapabilities returns the wl_seat capability bitmask.
func (s *Session) SeatCapabilities() uint32 {
	return s.seatCaps
}

// SeatName returns the seat name, empty below wl_seat version 2.
func (s *Session) SeatName() string {
	return s.seatName
}

// Close unregisters the connection, releases outputs and capabilities and
// closes the socket. The session can be initialized again afterwards.
func (s *Session) Close() error {
	if !s.Flags.Initialized {
		return nil
	}
	var firstErr error
	if s.registrar != nil && s.handle.Valid() {
		if err := s.registrar.Unregister(s.handle); err != nil {
			firstErr = err
		}
	}
	for _, o := range s.Outputs() {
		s.removeOutput(o)
	}
	for c := Capability(0); c < capabilityCount; c++ {
		s.bound[c].release(c)
	}
	if s.registry != nil {
		s.registry.Forget()
	}
	if s.display != nil {
		if !s.Flags.Closing {
			if err := s.display.Flush(); err != nil {
				log.Printf("[session] warning: flush on close: %v", err)
			}
		}
		if err := s.display.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close display")
		}
	}
	s.reset()
	return firstErr
}

// Shutdown implements api.GracefulShutdown.
func (s *Session) Shutdown() error {
	return s.Close()
}

func (s *Session) registerProbes() {
	if s.opts.Probes == nil {
		return
	}
	s.opts.Probes.RegisterProbe("capabilities", func() any {
		m := make(map[string]uint32, capabilityCount)
		for c := Capability(0); c < capabilityCount; c++ {
			if b := s.bound[c]; b.Bound() {
				m[c.Interface()] = b.Name
			}
		}
		return m
	})
	s.opts.Probes.RegisterProbe("outputs", func() any {
		var list []map[string]any
		for _, o := range s.Outputs() {
			list = append(list, map[string]any{
				"name":      o.Name,
				"id":        o.ID,
				"x":         o.X,
				"y":         o.Y,
				"width":     o.Width,
				"height":    o.Height,
				"scale":     o.Scale,
				"transform": o.Transform.String(),
			})
		}
		return list
	})
}

func (s *Session) debugf(format string, args ...any) {
	if s.opts.Debug {
		log.Printf("[session] debug: "+format, args...)
	}
}
