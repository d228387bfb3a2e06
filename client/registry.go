// File: client/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"github.com/momentics/hioload-wl/protocol"
)

const (
	registryOpBind = 0

	registryEvGlobal       = 0
	registryEvGlobalRemove = 1
)

// RegistryListener observes the compositor's global objects. A returned
// error stops dispatch and is handed back to the caller of Dispatch.
type RegistryListener interface {
	Global(name uint32, iface string, version uint32) error
	GlobalRemove(name uint32) error
}

// Registry announces globals and binds them.
type Registry struct {
	*Proxy
	listener RegistryListener
}

func (r *Registry) handleEvent(opcode uint16, args *protocol.Decoder) error {
	switch opcode {
	case registryEvGlobal:
		name, iface, version := args.Uint(), args.String(), args.Uint()
		if err := args.Err(); err != nil {
			return err
		}
		return r.listener.Global(name, iface, version)
	case registryEvGlobalRemove:
		name := args.Uint()
		if err := args.Err(); err != nil {
			return err
		}
		return r.listener.GlobalRemove(name)
	}
	return nil
}

// Bind creates a client object for the global with the given numeric name.
// version must not exceed what the compositor advertised.
func (r *Registry) Bind(name uint32, iface string, version uint32) (*Proxy, error) {
	p := r.display.NewProxy(iface, version)
	if err := r.Request(registryOpBind, name, iface, version, p); err != nil {
		r.display.forget(p)
		return nil, err
	}
	return p, nil
}
