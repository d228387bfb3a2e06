// File: internal/session/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"log"

	"github.com/momentics/hioload-wl/api"
)

// connectionHandler plugs the display socket into the multiplexer.
type connectionHandler struct {
	s *Session
}

var _ api.Handler = (*connectionHandler)(nil)

func (h *connectionHandler) Fd() int {
	if h.s.display == nil {
		return -1
	}
	return h.s.display.Fd()
}

func (h *connectionHandler) Events() api.EventMask {
	return api.EventRead
}

// OnEvent runs one round of protocol dispatch. Listener failures are
// returned; a broken connection only marks the session as closing.
func (h *connectionHandler) OnEvent(ready api.EventMask) error {
	s := h.s
	if s.Flags.Closing {
		return nil
	}
	s.opts.Metrics.Add("session.dispatches", 1)
	if err := s.display.Dispatch(); err != nil {
		if api.IsFatal(err) {
			return err
		}
		log.Printf("[session] warning: connection lost (%s): %v", ready, err)
		s.Flags.Closing = true
	}
	return nil
}

// OnEach flushes requests queued during the iteration.
func (h *connectionHandler) OnEach() error {
	s := h.s
	if s.Flags.Closing || s.display == nil || s.display.Pending() == 0 {
		return nil
	}
	s.opts.Metrics.Add("session.flushes", 1)
	if err := s.display.Flush(); err != nil {
		log.Printf("[session] warning: flush failed: %v", err)
		s.Flags.Closing = true
	}
	return nil
}
