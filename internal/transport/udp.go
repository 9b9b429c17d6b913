// Package transport owns the mesh-facing UDP socket. It decodes inbound
// datagrams into signals, hands them to the router, and sends dock replies
// back to peers. The transport gives no delivery, ordering, or exactly-once
// guarantee; the router is built for that.
package transport

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/astromesh/observer/internal/router"
	"github.com/astromesh/observer/internal/signal"
)

// maxDatagram bounds one read. Mesh signals are small; 64 KiB is the UDP
// payload ceiling anyway.
const maxDatagram = 64 * 1024

// Endpoint is one bound UDP socket, used both to serve inbound signals and
// to reply to dock requests. It implements router.Responder.
type Endpoint struct {
	conn   *net.UDPConn
	logger *zap.Logger
}

// Listen binds the socket.
func Listen(addr string, logger *zap.Logger) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", addr, err)
	}

	logger.Info("listening for mesh signals",
		zap.String("addr", conn.LocalAddr().String()),
	)

	return &Endpoint{conn: conn, logger: logger}, nil
}

// Serve reads datagrams until ctx is cancelled, routing each decoded signal.
// A malformed datagram is logged and dropped; the router never sees it.
func (e *Endpoint) Serve(ctx context.Context, rt *router.Router) error {
	go func() {
		<-ctx.Done()
		e.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}

		sig, err := signal.Decode(buf[:n])
		if err != nil {
			e.logger.Warn("dropping malformed datagram",
				zap.String("from", from.String()),
				zap.Int("bytes", n),
				zap.Error(err),
			)
			continue
		}

		rt.Route(ctx, sig, from)
	}
}

// SendResponse encodes and sends one signal to a peer. Used for dock replies.
func (e *Endpoint) SendResponse(addr *net.UDPAddr, sig signal.Signal) error {
	b, err := signal.Encode(sig)
	if err != nil {
		return err
	}

	if _, err := e.conn.WriteToUDP(b, addr); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

// Close releases the socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
