package reporterz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPTransport writes each batch as one datagram to an agent.
type UDPTransport struct {
	conn          net.Conn
	maxPacketSize int
	closeOnce     sync.Once
}

// NewUDPTransport dials hostPort. Datagrams larger than maxPacketSize are
// rejected before writing.
func NewUDPTransport(hostPort string, maxPacketSize int) (*UDPTransport, error) {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultUDPMaxPacketSize
	}
	conn, err := net.Dial("udp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", hostPort, err)
	}
	return &UDPTransport{conn: conn, maxPacketSize: maxPacketSize}, nil
}

// Send implements Transport.
func (t *UDPTransport) Send(ctx context.Context, batch Batch) error {
	if len(batch.Payload) > t.maxPacketSize {
		return fmt.Errorf("datagram of %d bytes exceeds max packet size %d", len(batch.Payload), t.maxPacketSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := t.conn.Write(batch.Payload)
	if err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}
	if n != len(batch.Payload) {
		return fmt.Errorf("short datagram write: %d of %d bytes", n, len(batch.Payload))
	}
	return nil
}

// Close implements Transport. Safe to call more than once.
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

// LocalAddr returns the local address of the underlying socket.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}
