// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Platform probes describing the display environment.

package control

import (
	"os"
	"runtime"
)

// RegisterPlatformProbes records the environment the session connects from.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.os", func() any {
		return runtime.GOOS
	})
	dp.RegisterProbe("platform.wayland_display", func() any {
		return os.Getenv("WAYLAND_DISPLAY")
	})
	dp.RegisterProbe("platform.xdg_runtime_dir", func() any {
		return os.Getenv("XDG_RUNTIME_DIR")
	})
}
