package netsvc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/sumeragilog"
	"github.com/tolelom/sumeragi/topology"
)

func testPeer(t *testing.T, addr string) topology.Peer {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return topology.Peer{Address: addr, PublicKey: pub}
}

type collector struct {
	mu      sync.Mutex
	packets []message.Packet
}

func (c *collector) handler(_ topology.Peer, p message.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, p)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

func TestTCPNetworkSendAndReceive(t *testing.T) {
	serverPeer := testPeer(t, "127.0.0.1:0")
	clientPeer := testPeer(t, "127.0.0.1:0")

	serverCollector := &collector{}
	server := NewTCPNetwork(serverPeer, serverCollector.handler, sumeragilog.Nop())
	require.NoError(t, server.Listen("127.0.0.1:18991"))
	defer server.Close()

	clientCollector := &collector{}
	client := NewTCPNetwork(clientPeer, clientCollector.handler, sumeragilog.Nop())
	defer client.Close()

	serverPeer.Address = "127.0.0.1:18991"
	require.NoError(t, client.Connect(serverPeer))

	tx := message.NewTransactionGossip(clientPeer, nil, nil)
	require.NoError(t, client.Send(serverPeer, tx))

	require.Eventually(t, func() bool { return serverCollector.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, message.KindTransactionGossip, serverCollector.packets[0].Kind)
}

func TestTCPNetworkOnlinePeersTracksOpenConnections(t *testing.T) {
	serverPeer := testPeer(t, "127.0.0.1:18992")
	clientPeer := testPeer(t, "127.0.0.1:0")

	server := NewTCPNetwork(serverPeer, func(topology.Peer, message.Packet) {}, sumeragilog.Nop())
	require.NoError(t, server.Listen("127.0.0.1:18992"))
	defer server.Close()

	client := NewTCPNetwork(clientPeer, func(topology.Peer, message.Packet) {}, sumeragilog.Nop())
	defer client.Close()
	require.NoError(t, client.Connect(serverPeer))

	require.Eventually(t, func() bool { return len(client.OnlinePeers()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestTCPNetworkSendWithoutConnectionFails(t *testing.T) {
	self := testPeer(t, "127.0.0.1:0")
	other := testPeer(t, "127.0.0.1:19000")
	n := NewTCPNetwork(self, func(topology.Peer, message.Packet) {}, sumeragilog.Nop())
	defer n.Close()

	err := n.Send(other, message.NewTransactionGossip(self, nil, nil))
	require.Error(t, err)
}
