// Package transport opens and tunes the three TCP sessions a ZET 017
// device exposes, and bounds how fast a registry of devices may redial
// after disconnects.
package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/zet017/zet017tcp/internal/protocol"
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second

	keepaliveIdle     = 20 * time.Second
	keepaliveInterval = 1 * time.Second
	keepaliveCount    = 10
)

// Dial opens one TCP session to a device port: connect with a 10-second
// deadline, enable and tune keepalive, then consume the length-prefixed
// handshake the device sends before any command or stream traffic.
// Canceling ctx aborts a connect in progress.
func Dial(ctx context.Context, ip string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, protocol.Errorf(protocol.ErrSocketFailed, "dialing %s:%d: %v", ip, port, err)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tuneKeepalive(tcp); err != nil {
			conn.Close()
			return nil, protocol.Errorf(protocol.ErrSocketFailed, "tuning keepalive for %s:%d: %v", ip, port, err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if _, err := protocol.ReadHandshake(conn); err != nil {
		conn.Close()
		return nil, protocol.Errorf(protocol.ErrHandshakeFailed, "handshake on %s:%d: %v", ip, port, err)
	}
	conn.SetReadDeadline(time.Time{})

	return conn, nil
}
