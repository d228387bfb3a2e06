// File: internal/session/output.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"fmt"

	"github.com/momentics/hioload-wl/client"
	"github.com/momentics/hioload-wl/pool"
	"github.com/momentics/hioload-wl/protocol"
)

// Transform is the wl_output.transform enum.
type Transform int32

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

var transformNames = [...]string{"normal", "90", "180", "270", "flipped", "flipped-90", "flipped-180", "flipped-270"}

func (t Transform) String() string {
	if t < 0 || int(t) >= len(transformNames) {
		return fmt.Sprintf("transform(%d)", int32(t))
	}
	return transformNames[t]
}

const (
	outputEvGeometry    = 0
	outputEvMode        = 1
	outputEvDone        = 2
	outputEvScale       = 3
	outputEvName        = 4
	outputEvDescription = 5

	outputOpRelease    = 0
	outputReleaseSince = 3
	outputModeCurrent  = 0x1
	xdgOutputOpDestroy = 0
	xdgManagerOpGetXdg = 1
	xdgEvLogicalPos    = 0
	xdgEvLogicalSize   = 1
	xdgEvDone          = 2
	xdgEvName          = 3
	xdgEvDescription   = 4
)

// Output is the session's record of one wl_output global.
type Output struct {
	Name        string
	Description string
	Make        string
	Model       string

	Proxy     *client.Proxy // wl_output
	XdgOutput *client.Proxy // zxdg_output_v1, nil without an output manager

	ID uint32 // registry name

	// Position and size in the global compositor space. The xdg-output
	// logical values win over wl_output geometry once they arrive.
	X, Y          int32
	Width, Height int32
	// Current mode in physical pixels.
	ModeWidth, ModeHeight int32
	Refresh               int32

	Scale     int32
	Transform Transform
	Done      bool

	handle  pool.Handle
	session *Session
	logical bool
}

// Handle returns the output's stable handle in the session.
func (o *Output) Handle() pool.Handle {
	return o.handle
}

func (o *Output) String() string {
	name := o.Name
	if name == "" {
		name = fmt.Sprintf("output-%d", o.ID)
	}
	return fmt.Sprintf("%s %dx%d+%d+%d scale=%d transform=%s", name, o.Width, o.Height, o.X, o.Y, o.Scale, o.Transform)
}

func (o *Output) handleEvent(opcode uint16, args *protocol.Decoder) error {
	switch opcode {
	case outputEvGeometry:
		x, y := args.Int(), args.Int()
		args.Int() // physical width, mm
		args.Int() // physical height, mm
		args.Int() // subpixel
		mk, model := args.String(), args.String()
		transform := args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		if !o.logical {
			o.X, o.Y = x, y
		}
		o.Make, o.Model = mk, model
		o.Transform = Transform(transform)
	case outputEvMode:
		flags, w, h, refresh := args.Uint(), args.Int(), args.Int(), args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		if flags&outputModeCurrent == 0 {
			return nil
		}
		o.ModeWidth, o.ModeHeight, o.Refresh = w, h, refresh
		if !o.logical {
			o.Width, o.Height = w, h
		}
	case outputEvDone:
		o.Done = true
		o.session.outputChanged(o)
	case outputEvScale:
		scale := args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		o.Scale = scale
	case outputEvName:
		name := args.String()
		if err := args.Err(); err != nil {
			return err
		}
		o.Name = name
	case outputEvDescription:
		desc := args.String()
		if err := args.Err(); err != nil {
			return err
		}
		o.Description = desc
	}
	return args.Err()
}

func (o *Output) handleXdgEvent(opcode uint16, args *protocol.Decoder) error {
	switch opcode {
	case xdgEvLogicalPos:
		x, y := args.Int(), args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		o.X, o.Y = x, y
		o.logical = true
	case xdgEvLogicalSize:
		w, h := args.Int(), args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		o.Width, o.Height = w, h
		o.logical = true
	case xdgEvDone:
		o.Done = true
		o.session.outputChanged(o)
	case xdgEvName:
		name := args.String()
		if err := args.Err(); err != nil {
			return err
		}
		o.Name = name
	case xdgEvDescription:
		desc := args.String()
		if err := args.Err(); err != nil {
			return err
		}
		o.Description = desc
	}
	return args.Err()
}

func (o *Output) release() {
	if o.XdgOutput != nil {
		o.XdgOutput.Destroy(xdgOutputOpDestroy)
		o.XdgOutput = nil
	}
	if o.Proxy != nil {
		if o.Proxy.Version() >= outputReleaseSince {
			o.Proxy.Destroy(outputOpRelease)
		} else {
			o.Proxy.Forget()
		}
		o.Proxy = nil
	}
}
