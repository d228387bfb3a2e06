// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Debug probe registry for internal inspection of live session state.

package control

import (
	"gopkg.in/yaml.v3"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook, replacing any previous one.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	if dp == nil {
		return
	}
	dp.probes[name] = fn
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	out := make(map[string]any)
	if dp == nil {
		return out
	}
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}

// DumpYAML renders DumpState as YAML with keys sorted.
func (dp *DebugProbes) DumpYAML() ([]byte, error) {
	return yaml.Marshal(dp.DumpState())
}
