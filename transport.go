package mauzr

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
)

// ALPNProtocol is negotiated on TLS and QUIC connections.
const ALPNProtocol = "mqtt/3.1.1"

// Dialer establishes broker connections.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// TCPDialer connects to brokers over plain TCP.
type TCPDialer struct{}

// Dial connects to host:port.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to brokers over TLS, optionally through a proxy.
type TLSDialer struct {
	// Config is the TLS configuration. It is completed by clientTLSConfig.
	Config *tls.Config

	// Forward dials the underlying connection. Nil means direct TCP.
	Forward Dialer
}

// Dial connects to host:port and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	forward := d.Forward
	if forward == nil {
		forward = &TCPDialer{}
	}

	raw, err := forward.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, clientTLSConfig(d.Config, host))
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("TLS handshake: %w", err)
	}
	return conn, nil
}

// clientTLSConfig returns a copy of base with ALPN, a TLS 1.2 floor and the
// server name filled in.
func clientTLSConfig(base *tls.Config, serverName string) *tls.Config {
	var cfg *tls.Config
	if base == nil {
		cfg = &tls.Config{}
	} else {
		cfg = base.Clone()
	}

	if cfg.MinVersion < tls.VersionTLS12 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{ALPNProtocol}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	return cfg
}

// defaultPorts per URL scheme.
var defaultPorts = map[string]string{
	"tcp":  "1883",
	"mqtt": "1883",
	"tls":  "8883",
	"ssl":  "8883",
	"ws":   "80",
	"wss":  "443",
	"quic": "8883",
}

// urlDialer dials broker URLs by scheme.
type urlDialer struct {
	tlsConfig *tls.Config
	proxy     *ProxyConfig
}

// Dial connects to a broker URL such as tls://broker:8883 or unix:///run/mqtt.sock.
func (d *urlDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	host := u.Host
	if port, ok := defaultPorts[u.Scheme]; ok && u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), port)
	}

	var forward Dialer = &TCPDialer{}
	if d.proxy != nil {
		forward, err = NewProxyDialer(*d.proxy)
		if err != nil {
			return nil, err
		}
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		return forward.Dial(ctx, host)
	case "tls", "ssl":
		return (&TLSDialer{Config: d.tlsConfig, Forward: forward}).Dial(ctx, host)
	case "ws", "wss":
		return NewWSDialer(d.tlsConfig).Dial(ctx, address)
	case "unix":
		path := u.Path
		if u.Host != "" {
			path = u.Host + u.Path
		}
		return (&UnixDialer{}).Dial(ctx, path)
	case "quic":
		return NewQUICDialer(d.tlsConfig).Dial(ctx, host)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}
