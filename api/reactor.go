// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the contract between the fd-multiplexing reactor and the
// subsystems that plug descriptors into it.

package api

import "strings"

// EventMask is a bitset of readiness conditions.
type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventError
	EventHangup
)

func (m EventMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&EventRead != 0 {
		parts = append(parts, "read")
	}
	if m&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if m&EventError != 0 {
		parts = append(parts, "error")
	}
	if m&EventHangup != 0 {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}

// Handler is one descriptor of interest registered with a reactor.
//
// OnEvent is called when the descriptor is ready; OnEach is called once per
// loop iteration, after every OnEvent of that iteration, whether or not the
// handler's own descriptor was ready. A non-nil error from either callback
// stops the loop and is returned to its driver.
type Handler interface {
	Fd() int
	Events() EventMask
	OnEvent(ready EventMask) error
	OnEach() error
}
