package mauzr

import (
	"context"
	"net"
)

// UnixDialer connects to brokers over Unix domain sockets.
type UnixDialer struct{}

// Dial connects to the socket file at address, e.g. "/run/mosquitto.sock".
func (d *UnixDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", address)
}
