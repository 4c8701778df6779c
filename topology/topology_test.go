package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/sumeragi/crypto"
)

func mustPeer(t *testing.T, address string) Peer {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return Peer{Address: address, PublicKey: pub}
}

func mustTopology(t *testing.T, n, f int) Topology {
	t.Helper()
	peers := make([]Peer, n)
	for i := range peers {
		peers[i] = mustPeer(t, "peer")
	}
	topo, err := New(peers, f)
	require.NoError(t, err)
	return topo
}

func TestNewRejectsUndersizedPeerSet(t *testing.T) {
	peers := []Peer{mustPeer(t, "a"), mustPeer(t, "b"), mustPeer(t, "c")}
	_, err := New(peers, 1) // needs 3f+1 = 4
	require.Error(t, err)
}

func TestNewSortsByIdentity(t *testing.T) {
	topo := mustTopology(t, 4, 1)
	peers := topo.Peers()
	for i := 1; i < len(peers); i++ {
		require.True(t, lessPeer(peers[i-1], peers[i]) || peers[i-1].Equal(peers[i]))
	}
}

func TestRoleAssignment4Peers(t *testing.T) {
	topo := mustTopology(t, 4, 1)
	peers := topo.Peers()

	role, ok := topo.RoleOf(peers[0])
	require.True(t, ok)
	require.Equal(t, RoleLeader, role)

	role, ok = topo.RoleOf(peers[1])
	require.True(t, ok)
	require.Equal(t, RoleValidatingPeer, role)

	role, ok = topo.RoleOf(peers[3])
	require.True(t, ok)
	require.Equal(t, RoleProxyTail, role)

	require.Equal(t, peers[0], topo.Leader())
	require.Equal(t, peers[3], topo.ProxyTail())
	require.Len(t, topo.ValidatingPeers(), 2*1)
	require.Equal(t, 3, topo.Quorum())
}

func TestRoleAssignment7Peers(t *testing.T) {
	// n=7, f=2: Leader(1) + setA(2f=4) + ProxyTail(1) leaves 1 observer.
	topo := mustTopology(t, 7, 2)
	peers := topo.Peers()

	role, ok := topo.RoleOf(peers[5])
	require.True(t, ok)
	require.Equal(t, RoleObservingPeer, role)

	require.Len(t, topo.ValidatingPeers(), 4)
	require.Len(t, topo.ObservingPeers(), 1)
	require.Equal(t, 5, topo.Quorum())
}

func TestRoleOfUnknownPeer(t *testing.T) {
	topo := mustTopology(t, 4, 1)
	stranger := mustPeer(t, "stranger")
	_, ok := topo.RoleOf(stranger)
	require.False(t, ok)
	require.False(t, topo.Contains(stranger))
}

func TestRotateSetAPromotesNewLeader(t *testing.T) {
	topo := mustTopology(t, 7, 2)
	before := topo.Peers()
	oldLeader := before[0]
	oldSetA1 := before[1]
	oldSetA2 := before[2]

	rotated := topo.RotateSetA()
	after := rotated.Peers()

	require.Equal(t, oldSetA1, after[0], "the old set-A[0] peer must become the new leader")
	require.Equal(t, oldSetA2, after[1])
	require.Equal(t, oldLeader, after[4], "the old leader must rotate to the back of the Leader+set-A range")
}

func TestRotateAllPromotesNewLeader(t *testing.T) {
	topo := mustTopology(t, 4, 1)
	before := topo.Peers()
	oldSetA1 := before[1]

	rotated := topo.RotateAll()
	after := rotated.Peers()

	require.Equal(t, oldSetA1, after[0], "full rotation promotes the old position-1 peer to leader")
	require.Equal(t, before[0], after[len(after)-1])
}

func TestRotateAllIsFullCycle(t *testing.T) {
	topo := mustTopology(t, 4, 1)
	cur := topo
	for i := 0; i < topo.Len(); i++ {
		cur = cur.RotateAll()
	}
	require.Equal(t, topo.Peers(), cur.Peers())
}
