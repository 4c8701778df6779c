package netsvc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/topology"
)

// maxPacketSize caps an incoming frame so a misbehaving or confused peer
// cannot force unbounded memory allocation.
const maxPacketSize = 64 * 1024 * 1024

// receiveDeadline bounds how long Receive blocks waiting on a stalled
// connection.
const receiveDeadline = 30 * time.Second

// wireConn wraps a TCP connection with message.Packet framing: a 4-byte
// big-endian length prefix followed by message.Encode's bytes, grounded
// on network/peer.go's Peer, switched from JSON to the binary codec.
type wireConn struct {
	remote topology.Peer

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func newWireConn(remote topology.Peer, conn net.Conn) *wireConn {
	return &wireConn{remote: remote, conn: conn}
}

func (c *wireConn) Send(packet message.Packet) error {
	data := message.Encode(packet)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("netsvc: connection to %s closed", c.remote)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("netsvc: write header to %s: %w", c.remote, err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("netsvc: write payload to %s: %w", c.remote, err)
	}
	return nil
}

func (c *wireConn) Receive() (message.Packet, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(receiveDeadline))
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return message.Packet{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxPacketSize {
		return message.Packet{}, fmt.Errorf("netsvc: frame from %s too large: %d bytes", c.remote, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return message.Packet{}, err
	}
	packet, err := message.Decode(buf)
	if err != nil {
		return message.Packet{}, fmt.Errorf("netsvc: decode frame from %s: %w", c.remote, err)
	}
	return packet, nil
}

func (c *wireConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.conn.Close()
	}
}
