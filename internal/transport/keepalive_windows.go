//go:build windows

package transport

import (
	"net"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// tuneKeepalive enables keepalive with idle=20s and interval=1s via
// SIO_KEEPALIVE_VALS. Windows does not expose the probe count; it stays at
// the system default.
func tuneKeepalive(conn *net.TCPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	ka := windows.TCPKeepalive{
		OnOff:    1,
		Time:     uint32(keepaliveIdle / time.Millisecond),
		Interval: uint32(keepaliveInterval / time.Millisecond),
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		var ret uint32
		serr = windows.WSAIoctl(windows.Handle(fd), windows.SIO_KEEPALIVE_VALS,
			(*byte)(unsafe.Pointer(&ka)), uint32(unsafe.Sizeof(ka)),
			nil, 0, &ret, nil, 0)
	})
	if err != nil {
		return err
	}
	return serr
}
