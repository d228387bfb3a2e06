// File: internal/session/capability.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"github.com/momentics/hioload-wl/client"
)

// Capability names one of the compositor globals the session binds.
type Capability int

const (
	Compositor Capability = iota
	Seat
	Shm
	ScreencopyManager
	Viewporter
	FractionalScaleManager
	WmBase
	OutputManager

	capabilityCount
)

// noDestructor marks interfaces released by forgetting the proxy.
const noDestructor = -1

type capabilitySpec struct {
	iface   string
	label   string
	version uint32
	// Removal of a fatal capability ends the session.
	fatal bool
	// destructor is the release request opcode, available since destroySince.
	destructor   int
	destroySince uint32
}

var capabilities = [capabilityCount]capabilitySpec{
	Compositor:             {"wl_compositor", "compositor", 4, true, noDestructor, 0},
	Seat:                   {"wl_seat", "seat", 1, true, 3, 5},
	Shm:                    {"wl_shm", "shm", 1, false, 1, 2},
	ScreencopyManager:      {"zwlr_screencopy_manager_v1", "screencopy_manager", 3, false, 2, 1},
	Viewporter:             {"wp_viewporter", "viewporter", 1, true, 0, 1},
	FractionalScaleManager: {"wp_fractional_scale_manager_v1", "fractional_scale_manager", 1, true, 0, 1},
	WmBase:                 {"xdg_wm_base", "wm_base", 2, true, 0, 1},
	OutputManager:          {"zxdg_output_manager_v1", "output_manager", 2, true, 0, 1},
}

const (
	outputInterface = "wl_output"
	outputVersion   = 4
)

var capabilityByInterface = func() map[string]Capability {
	m := make(map[string]Capability, capabilityCount)
	for c := Capability(0); c < capabilityCount; c++ {
		m[capabilities[c].iface] = c
	}
	return m
}()

// CapabilityByInterface maps a protocol interface name to its capability.
func CapabilityByInterface(iface string) (Capability, bool) {
	c, ok := capabilityByInterface[iface]
	return c, ok
}

func (c Capability) String() string {
	if c < 0 || c >= capabilityCount {
		return "unknown"
	}
	return capabilities[c].label
}

// Interface returns the protocol interface name.
func (c Capability) Interface() string {
	if c < 0 || c >= capabilityCount {
		return ""
	}
	return capabilities[c].iface
}

// FatalOnRemove reports whether losing the global ends the session.
func (c Capability) FatalOnRemove() bool {
	return c >= 0 && c < capabilityCount && capabilities[c].fatal
}

// Binding pairs a bound proxy with the numeric name the compositor
// advertised it under. Proxy is nil exactly when Name is zero.
type Binding struct {
	Proxy *client.Proxy
	Name  uint32
}

// Bound reports whether the capability is bound.
func (b Binding) Bound() bool {
	return b.Proxy != nil
}

func (b *Binding) release(c Capability) {
	if b.Proxy == nil {
		return
	}
	cs := capabilities[c]
	if cs.destructor != noDestructor && b.Proxy.Version() >= cs.destroySince {
		b.Proxy.Destroy(uint16(cs.destructor))
	} else {
		b.Proxy.Forget()
	}
	b.Proxy, b.Name = nil, 0
}
