package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/client"
	"github.com/momentics/hioload-wl/control"
	"github.com/momentics/hioload-wl/fake"
	"github.com/momentics/hioload-wl/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type global struct {
	name    uint32
	iface   string
	version uint32
}

var allGlobals = []global{
	{5, "wl_compositor", 4},
	{6, "wl_seat", 7},
	{7, "wl_shm", 1},
	{8, "zwlr_screencopy_manager_v1", 3},
	{9, "wp_viewporter", 1},
	{10, "wp_fractional_scale_manager_v1", 1},
	{11, "xdg_wm_base", 5},
	{12, "zxdg_output_manager_v1", 3},
}

func startCompositor(t *testing.T, globals ...global) *fake.Compositor {
	t.Helper()
	c, err := fake.NewCompositor()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	for _, g := range globals {
		require.NoError(t, c.AddGlobal(g.name, g.iface, g.version))
	}
	return c
}

func newSession(t *testing.T, c *fake.Compositor, opts session.Options) *session.Session {
	t.Helper()
	opts.Dial = func(string) (*client.Display, error) {
		return client.NewDisplay(c.ClientFd()), nil
	}
	s := session.New(opts)
	t.Cleanup(func() { s.Close() })
	return s
}

func initSession(t *testing.T, globals ...global) (*fake.Compositor, *session.Session, *fake.FakeReactor) {
	t.Helper()
	c := startCompositor(t, globals...)
	s := newSession(t, c, session.Options{})
	r := fake.NewFakeReactor()
	require.NoError(t, s.Init(r))
	return c, s, r
}

func TestInitBindsCompositor(t *testing.T) {
	c, s, r := initSession(t, global{5, "wl_compositor", 4})

	b := s.Capability(session.Compositor)
	require.True(t, b.Bound())
	assert.Equal(t, uint32(5), b.Name)
	assert.Equal(t, uint32(4), b.Proxy.Version())
	assert.Equal(t, "wl_compositor", b.Proxy.Interface())

	assert.Equal(t, []fake.Bind{{Name: 5, ID: b.Proxy.ID(), Version: 4}}, c.Bound("wl_compositor"))
	require.Len(t, r.Handlers(), 1)
	assert.Equal(t, s.Display().Fd(), r.Handlers()[0].Fd())
	assert.Equal(t, api.EventRead, r.Handlers()[0].Events())

	assert.True(t, s.Flags.Initialized)
	assert.False(t, s.Closing())
	assert.Equal(t, 1.0, s.Target.Scale)
}

func TestInitClampsVersions(t *testing.T) {
	c := startCompositor(t,
		global{5, "wl_compositor", 6},
		global{6, "xdg_wm_base", 1},
		global{7, "wp_viewporter", 1},
	)
	s := newSession(t, c, session.Options{Versions: map[string]uint32{"wp_viewporter": 9}})
	require.NoError(t, s.Init(fake.NewFakeReactor()))

	assert.Equal(t, uint32(4), s.Capability(session.Compositor).Proxy.Version())
	assert.Equal(t, uint32(1), s.Capability(session.WmBase).Proxy.Version())
	assert.Equal(t, uint32(1), s.Capability(session.Viewporter).Proxy.Version())
}

func TestInitVersionOverride(t *testing.T) {
	c := startCompositor(t, global{5, "wl_compositor", 6})
	s := newSession(t, c, session.Options{Versions: map[string]uint32{"wl_compositor": 3}})
	require.NoError(t, s.Init(fake.NewFakeReactor()))
	assert.Equal(t, []fake.Bind{{Name: 5, ID: s.Capability(session.Compositor).Proxy.ID(), Version: 3}},
		c.Bound("wl_compositor"))
}

func TestInitCompositorMissing(t *testing.T) {
	c := startCompositor(t, global{7, "wl_shm", 1})
	s := newSession(t, c, session.Options{})

	err := s.Init(fake.NewFakeReactor())
	require.Error(t, err)
	assert.Equal(t, api.ErrCodeMissingGlobal, api.CodeOf(err))
	assert.True(t, api.IsFatal(err))
	assert.Contains(t, err.Error(), "compositor missing")
}

func TestInitCustomRequired(t *testing.T) {
	c := startCompositor(t, global{5, "wl_compositor", 4})
	s := newSession(t, c, session.Options{Required: []string{"wl_compositor", "xdg_wm_base"}})

	err := s.Init(fake.NewFakeReactor())
	assert.Equal(t, api.ErrCodeMissingGlobal, api.CodeOf(err))
	assert.Contains(t, err.Error(), "wm_base missing")
}

func TestInitDuplicateCompositor(t *testing.T) {
	c := startCompositor(t, global{5, "wl_compositor", 4}, global{6, "wl_compositor", 4})
	s := newSession(t, c, session.Options{})

	err := s.Init(fake.NewFakeReactor())
	require.Error(t, err)
	assert.Equal(t, api.ErrCodeDuplicateGlobal, api.CodeOf(err))
	assert.Contains(t, err.Error(), "duplicate compositor")
	// The first binding survives untouched.
	assert.Equal(t, uint32(5), s.Capability(session.Compositor).Name)
}

func TestInitRejectsGlobalIDZero(t *testing.T) {
	c := startCompositor(t, global{0, "wl_compositor", 4})
	s := newSession(t, c, session.Options{})

	err := s.Init(fake.NewFakeReactor())
	require.Error(t, err)
	assert.Equal(t, api.ErrCodeRegistry, api.CodeOf(err))
	assert.True(t, api.IsFatal(err))
	assert.Contains(t, err.Error(), "id 0")
	assert.False(t, s.Capability(session.Compositor).Bound())
	assert.Empty(t, c.Bound("wl_compositor"))
}

func TestInitAlwaysRequiresCompositor(t *testing.T) {
	cfg, err := control.ParseConfig([]byte("required: []\n"))
	require.NoError(t, err)
	c := startCompositor(t, global{7, "wl_shm", 1})
	s := newSession(t, c, session.OptionsFromConfig(cfg))

	err = s.Init(fake.NewFakeReactor())
	assert.Equal(t, api.ErrCodeMissingGlobal, api.CodeOf(err))
	assert.Contains(t, err.Error(), "compositor missing")

	c = startCompositor(t, global{7, "wl_shm", 1})
	s = newSession(t, c, session.Options{Required: []string{"wl_shm"}})
	err = s.Init(fake.NewFakeReactor())
	assert.Equal(t, api.ErrCodeMissingGlobal, api.CodeOf(err))
	assert.Contains(t, err.Error(), "compositor missing")
}

func TestInitConnectFailure(t *testing.T) {
	s := session.New(session.Options{
		Display: "wayland-test",
		Dial: func(string) (*client.Display, error) {
			return nil, errors.New("no such socket")
		},
	})
	err := s.Init(fake.NewFakeReactor())
	require.Error(t, err)
	assert.Equal(t, api.ErrCodeConnect, api.CodeOf(err))
	assert.Contains(t, err.Error(), "no such socket")
	require.NoError(t, s.Close())
}

func TestInitRegistrationFailure(t *testing.T) {
	c := startCompositor(t, global{5, "wl_compositor", 4})
	s := newSession(t, c, session.Options{})
	r := fake.NewFakeReactor()
	r.RegisterErr = api.ErrAlreadyExists

	err := s.Init(r)
	assert.Equal(t, api.ErrCodeRegistration, api.CodeOf(err))
	assert.ErrorIs(t, err, api.ErrAlreadyExists)
}

func TestInitTwice(t *testing.T) {
	_, s, r := initSession(t, global{5, "wl_compositor", 4})
	err := s.Init(r)
	assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(err))
	// The first initialization is still in effect.
	assert.True(t, s.Capability(session.Compositor).Bound())
}

func TestCompositorDisappeared(t *testing.T) {
	c, s, _ := initSession(t, global{5, "wl_compositor", 4})

	require.NoError(t, c.RemoveGlobal(5))
	err := s.Handler().OnEvent(api.EventRead)
	require.Error(t, err)
	assert.Equal(t, api.ErrCodeGlobalRemoved, api.CodeOf(err))
	assert.Contains(t, err.Error(), "compositor disappeared")
}

func TestFatalRemovals(t *testing.T) {
	for _, g := range allGlobals {
		c, ok := session.CapabilityByInterface(g.iface)
		require.True(t, ok, g.iface)
		if !c.FatalOnRemove() {
			continue
		}
		t.Run(c.String(), func(t *testing.T) {
			fc, s, _ := initSession(t, allGlobals...)
			require.NoError(t, fc.RemoveGlobal(g.name))
			err := s.Handler().OnEvent(api.EventRead)
			assert.Equal(t, api.ErrCodeGlobalRemoved, api.CodeOf(err))
			assert.Contains(t, err.Error(), c.String()+" disappeared")
		})
	}
}

func TestUnrelatedRemovalIsIgnored(t *testing.T) {
	c, s, _ := initSession(t, global{5, "wl_compositor", 4})

	require.NoError(t, c.RemoveGlobal(999))
	require.NoError(t, s.Handler().OnEvent(api.EventRead))
	assert.False(t, s.Closing())
	assert.Equal(t, uint32(5), s.Capability(session.Compositor).Name)
}

func TestOptionalRemovalReleases(t *testing.T) {
	c, s, _ := initSession(t, allGlobals...)

	require.NoError(t, c.RemoveGlobal(7))
	require.NoError(t, s.Handler().OnEvent(api.EventRead))
	shm := s.Capability(session.Shm)
	assert.Nil(t, shm.Proxy)
	assert.Zero(t, shm.Name)

	require.NoError(t, c.RemoveGlobal(8))
	require.NoError(t, s.Handler().OnEvent(api.EventRead))
	assert.False(t, s.Capability(session.ScreencopyManager).Bound())

	// The screencopy manager has a destructor request.
	require.NoError(t, s.Handler().OnEach())
	require.NoError(t, s.Display().Roundtrip())
	var destroyed bool
	for _, req := range c.Requests() {
		if req.Interface == "zwlr_screencopy_manager_v1" && req.Opcode == 2 {
			destroyed = true
		}
	}
	assert.True(t, destroyed)
	assert.False(t, s.Closing())
}

func TestCapabilityLockstep(t *testing.T) {
	_, s, _ := initSession(t, allGlobals...)
	for i, g := range allGlobals {
		c := session.Capability(i)
		b := s.Capability(c)
		assert.Equal(t, b.Proxy != nil, b.Name != 0, c.String())
		assert.Equal(t, g.name, b.Name, c.String())
		assert.Equal(t, g.iface, c.Interface())
	}
	assert.Equal(t, []uint32{0, 1}, s.ShmFormats())
	assert.Equal(t, uint32(3), s.SeatCapabilities())
	assert.Empty(t, s.SeatName(), "wl_seat is bound at version 1")
}

func TestPingAnsweredAtEpilogue(t *testing.T) {
	c, s, _ := initSession(t, global{5, "wl_compositor", 4}, global{11, "xdg_wm_base", 2})

	require.NoError(t, c.Ping(42))
	require.NoError(t, s.Handler().OnEvent(api.EventRead))
	assert.Equal(t, 1, s.Display().Pending(), "pong waits for the epilogue")

	require.NoError(t, s.Handler().OnEach())
	assert.Zero(t, s.Display().Pending())

	select {
	case serial := <-c.Pongs():
		assert.Equal(t, uint32(42), serial)
	case <-time.After(2 * time.Second):
		t.Fatal("pong not received")
	}
}

func TestConnectionLossSetsClosing(t *testing.T) {
	c, s, _ := initSession(t, global{5, "wl_compositor", 4})

	require.NoError(t, c.Close())
	require.NoError(t, s.Handler().OnEvent(api.EventRead|api.EventHangup))
	assert.True(t, s.Closing())
	require.NoError(t, s.Handler().OnEach())
}

func TestProtocolErrorSetsClosing(t *testing.T) {
	c, s, _ := initSession(t, global{5, "wl_compositor", 4})

	require.NoError(t, c.PostError(1, 3, "bad request"))
	require.NoError(t, s.Handler().OnEvent(api.EventRead))
	assert.True(t, s.Closing())

	var perr *client.ProtocolError
	require.ErrorAs(t, s.Display().Err(), &perr)
	assert.Equal(t, uint32(3), perr.Code)
	assert.Equal(t, "wl_display", perr.Interface)
	assert.Equal(t, "bad request", perr.Message)
}

func TestOutputsPopulated(t *testing.T) {
	c := startCompositor(t, global{5, "wl_compositor", 4})
	require.NoError(t, c.AddOutput(20, fake.OutputInfo{
		X: 0, Y: 0, Make: "ACME", Model: "Panel", Transform: 1,
		Width: 2560, Height: 1440, Refresh: 60000, Scale: 2,
		Name: "DP-1", Description: "ACME Panel",
		LogicalX: 100, LogicalY: 50, LogicalWidth: 1280, LogicalHeight: 720,
	}))
	require.NoError(t, c.AddGlobal(12, "zxdg_output_manager_v1", 3))
	s := newSession(t, c, session.Options{})
	require.NoError(t, s.Init(fake.NewFakeReactor()))

	outs := s.Outputs()
	require.Len(t, outs, 1)
	o := outs[0]
	assert.Equal(t, uint32(20), o.ID)
	assert.Equal(t, "DP-1", o.Name)
	assert.Equal(t, "ACME Panel", o.Description)
	assert.Equal(t, "ACME", o.Make)
	assert.Equal(t, int32(100), o.X)
	assert.Equal(t, int32(50), o.Y)
	assert.Equal(t, int32(1280), o.Width)
	assert.Equal(t, int32(720), o.Height)
	assert.Equal(t, int32(2560), o.ModeWidth)
	assert.Equal(t, int32(2), o.Scale)
	assert.Equal(t, session.Transform90, o.Transform)
	assert.True(t, o.Done)
	require.NotNil(t, o.XdgOutput)
	assert.Equal(t, uint32(2), o.XdgOutput.Version())
	assert.Equal(t, []fake.Bind{{Name: 20, ID: o.Proxy.ID(), Version: 4}}, c.Bound("wl_output"))

	require.NoError(t, s.SelectOutput("DP-1"))
	assert.Same(t, o, s.CurrentOutput())
	assert.Equal(t, session.Target{Width: 1280, Height: 720, Scale: 2}, s.Target)

	assert.ErrorIs(t, s.SelectOutput("HDMI-9"), api.ErrNotFound)
}

func TestOutputWithoutManagerUsesGeometry(t *testing.T) {
	c := startCompositor(t, global{5, "wl_compositor", 4})
	require.NoError(t, c.AddOutput(20, fake.OutputInfo{X: 10, Y: 20, Width: 800, Height: 600, Scale: 1, Name: "eDP-1"}))
	s := newSession(t, c, session.Options{})
	require.NoError(t, s.Init(fake.NewFakeReactor()))

	require.Len(t, s.Outputs(), 1)
	o := s.Outputs()[0]
	assert.Nil(t, o.XdgOutput)
	assert.Equal(t, int32(10), o.X)
	assert.Equal(t, int32(800), o.Width)
	assert.Equal(t, "eDP-1", o.Name)
}

func TestOutputHotplug(t *testing.T) {
	c, s, _ := initSession(t, global{5, "wl_compositor", 4})
	assert.Empty(t, s.Outputs())

	require.NoError(t, c.AddOutput(30, fake.OutputInfo{Width: 1024, Height: 768, Scale: 1, Name: "HDMI-A-1"}))
	require.NoError(t, s.Handler().OnEvent(api.EventRead))
	require.NoError(t, s.Handler().OnEach())
	require.NoError(t, s.Display().Roundtrip())

	require.Len(t, s.Outputs(), 1)
	o := s.Outputs()[0]
	assert.Equal(t, "HDMI-A-1", o.Name)
	h := o.Handle()
	require.NoError(t, s.SelectOutput("HDMI-A-1"))

	require.NoError(t, c.RemoveGlobal(30))
	require.NoError(t, s.Handler().OnEvent(api.EventRead))
	assert.Empty(t, s.Outputs())
	assert.Nil(t, s.CurrentOutput())
	_, ok := s.Output(h)
	assert.False(t, ok, "stale handle must not resolve")
	assert.Nil(t, o.Proxy)

	// wl_output v4 is released with an explicit request.
	require.NoError(t, s.Handler().OnEach())
	require.NoError(t, s.Display().Roundtrip())
	var released bool
	for _, req := range c.Requests() {
		if req.Interface == "wl_output" && req.Opcode == 0 {
			released = true
		}
	}
	assert.True(t, released)
	assert.True(t, s.Capability(session.Compositor).Bound())
}

func TestCloseReleasesEverything(t *testing.T) {
	c, s, r := initSession(t, allGlobals...)
	require.NoError(t, c.AddOutput(40, fake.OutputInfo{Name: "DP-2", Scale: 1}))
	require.NoError(t, s.Handler().OnEvent(api.EventRead))
	require.NoError(t, s.Handler().OnEach())
	require.NoError(t, s.Display().Roundtrip())

	require.NoError(t, s.Close())
	assert.Empty(t, r.Handlers())
	assert.False(t, s.Flags.Initialized)
	assert.Empty(t, s.Outputs())
	for i := range allGlobals {
		capability := session.Capability(i)
		assert.False(t, s.Capability(capability).Bound(), capability.String())
	}

	// Close flushes the destructors before hanging up.
	require.NoError(t, c.Err())
	seen := make(map[string]bool)
	for _, req := range c.Requests() {
		seen[req.Interface] = true
	}
	for _, iface := range []string{"wp_viewporter", "wp_fractional_scale_manager_v1", "xdg_wm_base",
		"zxdg_output_manager_v1", "zwlr_screencopy_manager_v1", "wl_output", "zxdg_output_v1"} {
		assert.True(t, seen[iface], "%s not destroyed", iface)
	}
	// No destructor exists at the bound versions.
	assert.False(t, seen["wl_compositor"])
	assert.False(t, seen["wl_shm"])
	assert.False(t, seen["wl_seat"])

	// Closing twice is harmless.
	require.NoError(t, s.Close())
}

func TestProbesAndMetrics(t *testing.T) {
	c := startCompositor(t, global{5, "wl_compositor", 4}, global{99, "wl_unknown_thing", 1})
	require.NoError(t, c.AddOutput(20, fake.OutputInfo{Name: "DP-1", Scale: 1}))
	probes := control.NewDebugProbes()
	metrics := control.NewMetricsRegistry()
	s := newSession(t, c, session.Options{Probes: probes, Metrics: metrics, Debug: true})
	require.NoError(t, s.Init(fake.NewFakeReactor()))

	state := probes.DumpState()
	assert.Equal(t, map[string]uint32{"wl_compositor": 5}, state["capabilities"])
	outs, ok := state["outputs"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, outs, 1)
	assert.Equal(t, "DP-1", outs[0]["name"])

	assert.Equal(t, int64(3), metrics.Get("session.globals_added"))
	assert.Equal(t, int64(1), metrics.Get("session.outputs"))
}

func TestCapabilityTable(t *testing.T) {
	for _, iface := range []string{"wl_shm", "zwlr_screencopy_manager_v1"} {
		c, ok := session.CapabilityByInterface(iface)
		require.True(t, ok)
		assert.False(t, c.FatalOnRemove(), iface)
	}
	for _, iface := range []string{"wl_compositor", "wl_seat", "wp_viewporter",
		"wp_fractional_scale_manager_v1", "xdg_wm_base", "zxdg_output_manager_v1"} {
		c, ok := session.CapabilityByInterface(iface)
		require.True(t, ok)
		assert.True(t, c.FatalOnRemove(), iface)
	}
	_, ok := session.CapabilityByInterface("wl_output")
	assert.False(t, ok)
	assert.Equal(t, "unknown", session.Capability(42).String())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Display = "wayland-9"
	cfg.Debug = true
	opts := session.OptionsFromConfig(cfg)
	assert.Equal(t, "wayland-9", opts.Display)
	assert.Equal(t, []string{"wl_compositor"}, opts.Required)
	assert.True(t, opts.Debug)
}
