// Package mcast provides the thin socket constructors that satisfy
// line.Socket and session.Conn: a multicast UDP listener for Venue
// A/B feed endpoints and a context-aware TCP dialer for Venue C's
// session engine. Per spec.md §1, the socket/syscall layer itself is
// an external collaborator; what's implemented here is the minimum
// stdlib net glue that produces a handle those interfaces accept,
// grounded on the teacher's own plain net.Dial/net.Conn use
// (collector_test.go, eventsocket/client.go) generalized with
// net.Dialer.DialContext per nabbar-golib's AWS endpoint dialer
// (aws/configAws/models.go).
package mcast

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/csfeeds/feedhandler/internal/config"
	"github.com/csfeeds/feedhandler/internal/session"
)

// DialTCP opens a TCP connection to addr, observing ctx for
// cancellation during the dial. The returned net.Conn already
// satisfies both line.Socket and session.Conn; no wrapper type is
// needed since net.Conn carries SetReadDeadline/Read/Write/Close.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// ListenMulticastUDP joins the multicast group at address:port on the
// named interface (empty iface lets the kernel pick) and returns the
// resulting *net.UDPConn, which satisfies line.Socket directly.
func ListenMulticastUDP(address string, port int, iface string) (*net.UDPConn, error) {
	var ifi *net.Interface
	if iface != "" {
		found, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, fmt.Errorf("mcast: interface %q: %w", iface, err)
		}
		ifi = found
	}

	group := &net.UDPAddr{IP: net.ParseIP(address), Port: port}
	return net.ListenMulticastUDP("udp", ifi, group)
}

// NewTCPDialer returns a session.Dialer that opens a plain TCP
// connection with the given per-attempt timeout, for wiring into
// session.NewEngine.
func NewTCPDialer(timeout time.Duration) session.Dialer {
	return func(ctx context.Context, addr string) (session.Conn, error) {
		return DialTCP(ctx, addr, timeout)
	}
}

// EndpointSocket opens the socket described by an EndpointConfig. A
// disabled endpoint returns (nil, nil) so callers can wire
// Connection.Socket = nil and have Process.Run's pollOnce skip it.
func EndpointSocket(cfg config.EndpointConfig) (*net.UDPConn, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return ListenMulticastUDP(cfg.Address, cfg.Port, cfg.Interface)
}
