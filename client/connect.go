// File: client/connect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultDisplayName is used when neither the caller nor WAYLAND_DISPLAY
// names a socket.
const DefaultDisplayName = "wayland-0"

// SocketPath resolves a display name to a socket path. An empty name falls
// back to WAYLAND_DISPLAY, then DefaultDisplayName. Relative names live
// under XDG_RUNTIME_DIR.
func SocketPath(name string) (string, error) {
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
	}
	if name == "" {
		name = DefaultDisplayName
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", errors.Errorf("XDG_RUNTIME_DIR is not set, cannot locate %q", name)
	}
	return filepath.Join(dir, name), nil
}

// Connect opens a connection to a compositor. With an empty name an
// inherited WAYLAND_SOCKET descriptor takes precedence over socket lookup.
func Connect(name string) (*Display, error) {
	if name == "" {
		if s, ok := os.LookupEnv("WAYLAND_SOCKET"); ok {
			return connectInherited(s)
		}
	}
	path, err := SocketPath(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "create socket")
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "connect to %s", path)
	}
	return NewDisplay(fd), nil
}

func connectInherited(s string) (*Display, error) {
	os.Unsetenv("WAYLAND_SOCKET")
	fd, err := strconv.Atoi(s)
	if err != nil || fd < 0 {
		return nil, errors.Errorf("WAYLAND_SOCKET=%q is not a descriptor", s)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return nil, errors.Wrapf(err, "WAYLAND_SOCKET=%d", fd)
	}
	return NewDisplay(fd), nil
}
