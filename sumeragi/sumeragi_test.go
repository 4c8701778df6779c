package sumeragi

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/wsv"
)

func TestNew_EmptyStoreStartsAtHeightZero(t *testing.T) {
	peers, _ := genPeers(t, 4)
	topo, err := topology.New(peers, 1)
	require.NoError(t, err)
	validator, _, _ := newTestValidator(t)

	s, _ := newClusterNode(t, topo.Leader(), nil, topo, validator)
	assert.Equal(t, uint64(0), s.currentHeight())
	assert.Equal(t, topology.RoleLeader, s.role())
}

func TestReplay_AppliesStoredBlockAndRotatesTopology(t *testing.T) {
	peers, _ := genPeers(t, 4)
	topo, err := topology.New(peers, 1)
	require.NoError(t, err)
	validator, authority, authorityPriv := newTestValidator(t)

	tx := signedTx(authority, authorityPriv, []wsv.Instruction{wsv.RegisterDomain("replayed")})
	header := block.NewHeader(1, [32]byte{}, 0, topo, []wsv.Transaction{tx}, nil)
	cb := block.CommittedBlock{PendingBlock: block.PendingBlock{Header: header, Transactions: []wsv.Transaction{tx}}}

	net := &fakeNetwork{online: topo.Peers()}
	store := newPrePopulatedStore(t, cb)
	s, err := New(Deps{
		Self: peers[0], PrivKey: nil, InitialTopology: topo, MaxFaultyPeers: 1,
		Store: store, Queue: newMemQueue(), Network: net, Validator: validator,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), s.currentHeight())
	assert.Equal(t, header.Hash(), s.wsv.LatestBlockHash())
	d, err := s.wsv.Domain("replayed")
	require.NoError(t, err)
	assert.Equal(t, "replayed", d.Name)

	// topologyAfter rotates set A relative to the stored header's own
	// topology snapshot, independent of the InitialTopology passed to New.
	want := func() topology.Topology {
		base, err := topology.New(header.CommittedWithTopology, 1)
		require.NoError(t, err)
		return base.RotateSetA()
	}()
	assert.Equal(t, want.Peers(), s.topo.Peers())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTransient, classify(transient("x")))
	assert.Equal(t, KindBlockInvalid, classify(blockInvalid("x")))
	assert.Equal(t, KindFatal, classify(fatalf("x")))
	assert.Equal(t, KindFatal, classify(fmt.Errorf("unkinded")))
}

func TestMarkCommittedAndNotCommitted(t *testing.T) {
	peers, _ := genPeers(t, 4)
	topo, err := topology.New(peers, 1)
	require.NoError(t, err)
	validator, authority, authorityPriv := newTestValidator(t)
	s, _ := newClusterNode(t, peers[0], nil, topo, validator)

	tx := signedTx(authority, authorityPriv, []wsv.Instruction{wsv.RegisterDomain("d")})
	assert.True(t, s.notCommitted(tx))
	s.markCommitted([]wsv.Transaction{tx})
	assert.False(t, s.notCommitted(tx))
}

func TestPruneCommittedHashesDropsOldEntries(t *testing.T) {
	peers, _ := genPeers(t, 4)
	topo, err := topology.New(peers, 1)
	require.NoError(t, err)
	validator, authority, authorityPriv := newTestValidator(t)
	s, _ := newClusterNode(t, peers[0], nil, topo, validator)

	tx := signedTx(authority, authorityPriv, []wsv.Instruction{wsv.RegisterDomain("d")})
	h := tx.Hash()
	s.committedHashes[h] = time.Now().Add(-2 * time.Hour)
	s.pruneCommittedHashes(time.Now())
	_, stillThere := s.committedHashes[h]
	assert.False(t, stillThere)
}
