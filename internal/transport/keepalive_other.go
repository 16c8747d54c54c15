//go:build !linux && !windows

package transport

import "net"

// tuneKeepalive enables keepalive with the stdlib period where raw
// idle/interval/count options are not portable.
func tuneKeepalive(conn *net.TCPConn) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	return conn.SetKeepAlivePeriod(keepaliveIdle)
}
