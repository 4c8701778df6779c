package message

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/viewchange"
	"github.com/tolelom/sumeragi/wsv"
)

func testPeer(t *testing.T, addr string) topology.Peer {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return topology.Peer{Address: addr, PublicKey: pub}
}

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	encoded := Encode(p)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	return decoded
}

func TestRoundTripBlockCreated(t *testing.T) {
	sender := testPeer(t, "leader")
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	proof := viewchange.Sign(1, 0, viewchange.ReasonLeaderTimeout, sender, priv)
	proposal := block.PendingBlock{
		Header: block.BlockHeader{Height: 1, CommittedWithTopology: []topology.Peer{sender}},
		Transactions: []wsv.Transaction{{
			Authority: wsv.AccountID{Name: "bob", Domain: "alpha"},
			Payload:   []wsv.Instruction{wsv.RegisterDomain("alpha"), wsv.MintAsset(wsv.AssetID{}, 42)},
			CreatedAt: 100,
			Signature: "deadbeef",
		}},
	}
	original := NewBlockCreated(sender, []viewchange.Proof{proof}, proposal)

	decoded := roundTrip(t, original)
	require.Equal(t, original.Kind, decoded.Kind)
	require.Equal(t, original.Sender, decoded.Sender)
	require.Equal(t, original.Proofs, decoded.Proofs)
	require.Equal(t, original.Block, decoded.Block)
}

func TestRoundTripBlockSigned(t *testing.T) {
	sender := testPeer(t, "validator")
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sig := block.Signature{Signer: topology.Peer{Address: "v", PublicKey: pub}, Signature: "abc123"}
	original := NewBlockSigned(sender, nil, sig)

	decoded := roundTrip(t, original)
	require.Equal(t, original.Signature, decoded.Signature)
	require.Empty(t, decoded.Proofs)
}

func TestRoundTripViewChangeSuggested(t *testing.T) {
	sender := testPeer(t, "p1")
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	proof := viewchange.Sign(3, 2, viewchange.ReasonCommitTimeout, sender, priv)
	original := NewViewChangeSuggested(sender, []viewchange.Proof{proof}, proof)

	decoded := roundTrip(t, original)
	require.Equal(t, original.ViewChangeProof, decoded.ViewChangeProof)
}

func TestRoundTripTransactionGossip(t *testing.T) {
	sender := testPeer(t, "p2")
	txs := []wsv.Transaction{
		{Authority: wsv.AccountID{Name: "a", Domain: "d"}, Payload: []wsv.Instruction{wsv.RegisterDomain("x")}, CreatedAt: 1},
		{Authority: wsv.AccountID{Name: "b", Domain: "d"}, Payload: []wsv.Instruction{wsv.RegisterDomain("y")}, CreatedAt: 2},
	}
	original := NewTransactionGossip(sender, nil, txs)

	decoded := roundTrip(t, original)
	require.Equal(t, original.Transactions, decoded.Transactions)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	sender := testPeer(t, "p3")
	original := NewTransactionGossip(sender, nil, nil)
	encoded := Encode(original)
	_, err := Decode(encoded[:len(encoded)-1])
	require.Error(t, err)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	sender := testPeer(t, "p4")
	original := NewTransactionGossip(sender, nil, nil)
	encoded := append(Encode(original), 0xFF)
	_, err := Decode(encoded)
	require.Error(t, err)
}
