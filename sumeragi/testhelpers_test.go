package sumeragi

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/kura"
	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/queue"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/txvalidator"
	"github.com/tolelom/sumeragi/wsv"
)

// genPeers builds n distinct (Peer, PrivateKey) pairs, sorted by nothing in
// particular — topology.New does its own sorting.
func genPeers(t *testing.T, n int) ([]topology.Peer, []crypto.PrivateKey) {
	t.Helper()
	peers := make([]topology.Peer, n)
	privs := make([]crypto.PrivateKey, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		peers[i] = topology.Peer{Address: fmt.Sprintf("peer%d.local:9000", i), PublicKey: pub}
		privs[i] = priv
	}
	return peers, privs
}

func indexOfPeer(peers []topology.Peer, target topology.Peer) int {
	for i, p := range peers {
		if p.Equal(target) {
			return i
		}
	}
	return -1
}

// sentPacket records one outbound send a fakeNetwork observed.
type sentPacket struct {
	to  topology.Peer
	pkt message.Packet
}

// fakeNetwork is a netsvc.Network that records every send instead of
// delivering it, so tests can inspect what a node tried to broadcast and
// feed it to other nodes under direct control.
type fakeNetwork struct {
	sent   []sentPacket
	online []topology.Peer
}

func (n *fakeNetwork) Broadcast(peers []topology.Peer, pkt message.Packet) {
	for _, p := range peers {
		n.sent = append(n.sent, sentPacket{to: p, pkt: pkt})
	}
}

func (n *fakeNetwork) Send(peer topology.Peer, pkt message.Packet) error {
	n.sent = append(n.sent, sentPacket{to: peer, pkt: pkt})
	return nil
}

func (n *fakeNetwork) OnlinePeers() []topology.Peer { return n.online }

// findPacket returns the first recorded packet of kind sent by net, failing
// the test if none was sent.
func findPacket(t *testing.T, net *fakeNetwork, kind message.Kind) message.Packet {
	t.Helper()
	for _, s := range net.sent {
		if s.pkt.Kind == kind {
			return s.pkt
		}
	}
	t.Fatalf("no %s packet sent", kind)
	return message.Packet{}
}

// findPacketsTo returns every recorded packet of kind addressed to to.
func findPacketsTo(net *fakeNetwork, kind message.Kind, to topology.Peer) []message.Packet {
	var out []message.Packet
	for _, s := range net.sent {
		if s.pkt.Kind == kind && s.to.Equal(to) {
			out = append(out, s.pkt)
		}
	}
	return out
}

// newClusterNode builds a Sumeragi for self against a fresh in-memory store
// and queue, wired to its own fakeNetwork so a test can drive message
// delivery between nodes by hand.
func newClusterNode(t *testing.T, self topology.Peer, priv crypto.PrivateKey, topo topology.Topology, validator wsv.TransactionValidator) (*Sumeragi, *fakeNetwork) {
	t.Helper()
	net := &fakeNetwork{online: topo.Peers()}
	s, err := New(Deps{
		Self:            self,
		PrivKey:         priv,
		InitialTopology: topo,
		MaxFaultyPeers:  topo.MaxFaulty(),
		Store:           kura.NewMemBlockStore(),
		Queue:           queue.New(),
		Network:         net,
		Validator:       validator,
		Logger:          zap.NewNop(),
		BlockTime:       time.Millisecond,
		CommitTimeLimit: time.Hour,
	})
	require.NoError(t, err)
	return s, net
}

// signedTx builds a transaction authored by authority, signed by priv, ready
// to pass txvalidator.Validator.Validate.
func signedTx(authority wsv.AccountID, priv crypto.PrivateKey, payload []wsv.Instruction) wsv.Transaction {
	tx := wsv.Transaction{Authority: authority, Payload: payload, CreatedAt: time.Now().UnixNano()}
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, hash[:])
	return tx
}

// newTestValidator returns a Validator with one registered authority, the
// shape every test in this package needs to get past signature checks.
func newTestValidator(t *testing.T) (*txvalidator.Validator, wsv.AccountID, crypto.PrivateKey) {
	t.Helper()
	v := txvalidator.New()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	authority := wsv.AccountID{Name: "root", Domain: "genesis"}
	v.RegisterKey(authority, pub)
	return v, authority, priv
}

// newMemQueue returns an empty queue.Queue backed by queue.InMemoryQueue.
func newMemQueue() queue.Queue { return queue.New() }

// newPrePopulatedStore returns a kura.BlockStore already holding blocks,
// used to exercise New's replay path without going through a live round.
func newPrePopulatedStore(t *testing.T, blocks ...block.CommittedBlock) kura.BlockStore {
	t.Helper()
	store := kura.NewMemBlockStore()
	for _, b := range blocks {
		require.NoError(t, store.Store(b))
	}
	return store
}
