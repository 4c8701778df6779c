package block

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/wsv"
)

func newTestPeer(t *testing.T) (topology.Peer, crypto.PrivateKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return topology.Peer{Address: "peer", PublicKey: pub}, priv
}

func TestHeaderHashIsStableAndSensitiveToContent(t *testing.T) {
	h1 := BlockHeader{Height: 1, Timestamp: 100}
	h2 := BlockHeader{Height: 1, Timestamp: 100}
	require.Equal(t, h1.Hash(), h2.Hash())

	h3 := h2
	h3.Height = 2
	require.NotEqual(t, h1.Hash(), h3.Hash())
}

func TestComputeTxRootEmptyIsStable(t *testing.T) {
	require.Equal(t, ComputeTxRoot(nil), ComputeTxRoot(nil))
	require.NotEqual(t, ComputeTxRoot(nil), ComputeTxRoot([]wsv.Transaction{{CreatedAt: 1}}))
}

func TestVerifyLinkageRejectsWrongHeightOrHash(t *testing.T) {
	h := BlockHeader{Height: 5, PreviousBlockHash: [32]byte{1}}
	require.NoError(t, h.VerifyLinkage(4, [32]byte{1}))
	require.Error(t, h.VerifyLinkage(4, [32]byte{2}))
	require.Error(t, h.VerifyLinkage(3, [32]byte{1}))
}

func TestSignAndVerify(t *testing.T) {
	peer, priv := newTestPeer(t)
	header := BlockHeader{Height: 1}
	sig := Sign(header, peer, priv)
	require.NoError(t, sig.Verify(header))

	header.Height = 2
	require.Error(t, sig.Verify(header))
}

func TestAddSignatureDedupesBySigner(t *testing.T) {
	peer, priv := newTestPeer(t)
	header := BlockHeader{Height: 1}
	pb := PendingBlock{Header: header}
	sig := Sign(header, peer, priv)

	require.True(t, pb.AddSignature(sig))
	require.False(t, pb.AddSignature(sig))
	require.Len(t, pb.Signatures, 1)
}

func TestDistinctSignersIgnoresNonMembers(t *testing.T) {
	peers := make([]topology.Peer, 4)
	privs := make([]crypto.PrivateKey, 4)
	for i := range peers {
		peers[i], privs[i] = newTestPeer(t)
	}
	topo, err := topology.New(peers, 1)
	require.NoError(t, err)

	stranger, strangerPriv := newTestPeer(t)
	header := BlockHeader{Height: 1}
	pb := PendingBlock{Header: header}
	pb.AddSignature(Sign(header, peers[0], privs[0]))
	pb.AddSignature(Sign(header, peers[1], privs[1]))
	pb.AddSignature(Sign(header, stranger, strangerPriv))

	require.Equal(t, 2, pb.DistinctSigners(topo))
}

func TestVotingBlockExpiry(t *testing.T) {
	vb := VotingBlock{VotedAt: time.Now().Add(-time.Hour)}
	require.True(t, vb.Expired(time.Second))

	fresh := NewVotingBlock(PendingBlock{})
	require.False(t, fresh.Expired(time.Hour))
}
