package netsvc

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/topology"
)

// Handler is invoked for every packet a TCPNetwork receives, from a
// dedicated goroutine per connection — handlers must not block for long.
type Handler func(from topology.Peer, packet message.Packet)

// TCPNetwork is the default Network, grounded on network/node.go's Node:
// a listener accepting inbound connections plus a set of outbound
// connections dialed via Connect, both read by per-connection goroutines
// that dispatch to a single Handler.
type TCPNetwork struct {
	self    topology.Peer
	handler Handler
	logger  *zap.Logger

	mu       sync.RWMutex
	conns    map[string]*wireConn
	listener net.Listener
	stopCh   chan struct{}
}

// NewTCPNetwork creates a TCPNetwork identifying outbound connections as
// self. handler is called for every packet received on any connection.
func NewTCPNetwork(self topology.Peer, handler Handler, logger *zap.Logger) *TCPNetwork {
	return &TCPNetwork{
		self:    self,
		handler: handler,
		logger:  logger,
		conns:   make(map[string]*wireConn),
		stopCh:  make(chan struct{}),
	}
}

// Listen starts accepting inbound connections on addr.
func (n *TCPNetwork) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("netsvc: listen %s: %w", addr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Connect dials remote and registers the resulting connection under
// remote's identity, replacing any existing connection to that peer.
func (n *TCPNetwork) Connect(remote topology.Peer) error {
	conn, err := net.Dial("tcp", remote.Address)
	if err != nil {
		return fmt.Errorf("netsvc: dial %s: %w", remote, err)
	}
	wc := newWireConn(remote, conn)
	n.register(remote, wc)
	go n.readLoop(remote, wc)
	return nil
}

// Close stops accepting connections and closes every open connection.
func (n *TCPNetwork) Close() error {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, wc := range n.conns {
		wc.Close()
	}
	n.conns = make(map[string]*wireConn)
	return nil
}

func (n *TCPNetwork) register(remote topology.Peer, wc *wireConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.conns[remote.ID()]; ok {
		old.Close()
	}
	n.conns[remote.ID()] = wc
}

func (n *TCPNetwork) Broadcast(peers []topology.Peer, packet message.Packet) {
	for _, p := range peers {
		if p.Equal(n.self) {
			continue
		}
		if err := n.Send(p, packet); err != nil {
			n.logger.Warn("netsvc: broadcast send failed",
				zap.String("peer", p.String()), zap.Error(err))
		}
	}
}

func (n *TCPNetwork) Send(peer topology.Peer, packet message.Packet) error {
	n.mu.RLock()
	wc, ok := n.conns[peer.ID()]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("netsvc: no open connection to %s", peer)
	}
	return wc.Send(packet)
}

func (n *TCPNetwork) OnlinePeers() []topology.Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	peers := make([]topology.Peer, 0, len(n.conns))
	for _, wc := range n.conns {
		peers = append(peers, wc.remote)
	}
	return peers
}

func (n *TCPNetwork) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.logger.Warn("netsvc: accept error", zap.Error(err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		go n.handleInbound(conn)
	}
}

// handleInbound reads the first packet off a freshly accepted connection
// to learn the sender's identity (carried in every Packet's Sender
// field) before registering the connection under that identity.
func (n *TCPNetwork) handleInbound(conn net.Conn) {
	anon := topology.Peer{Address: conn.RemoteAddr().String()}
	wc := newWireConn(anon, conn)
	packet, err := wc.Receive()
	if err != nil {
		n.logger.Warn("netsvc: inbound handshake failed", zap.Error(err))
		wc.Close()
		return
	}
	remote := packet.Sender
	wc.remote = remote
	n.register(remote, wc)
	n.handler(remote, packet)
	n.readLoop(remote, wc)
}

func (n *TCPNetwork) readLoop(remote topology.Peer, wc *wireConn) {
	defer func() {
		wc.Close()
		n.mu.Lock()
		if n.conns[remote.ID()] == wc {
			delete(n.conns, remote.ID())
		}
		n.mu.Unlock()
	}()
	for {
		packet, err := wc.Receive()
		if err != nil {
			return
		}
		n.handler(remote, packet)
	}
}
