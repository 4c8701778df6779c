package message

import (
	"fmt"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/viewchange"
	"github.com/tolelom/sumeragi/wsv"
)

func encodePeer(w *writer, p topology.Peer) {
	w.stringLP(p.Address)
	w.bytesLP(p.PublicKey)
}

func decodePeer(r *reader) (topology.Peer, error) {
	addr, err := r.stringLP()
	if err != nil {
		return topology.Peer{}, err
	}
	key, err := r.bytesLP()
	if err != nil {
		return topology.Peer{}, err
	}
	return topology.Peer{Address: addr, PublicKey: crypto.PublicKey(key)}, nil
}

func encodePeers(w *writer, peers []topology.Peer) {
	w.u32(uint32(len(peers)))
	for _, p := range peers {
		encodePeer(w, p)
	}
}

func decodePeers(r *reader) ([]topology.Peer, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]topology.Peer, n)
	for i := range out {
		out[i], err = decodePeer(r)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeAccountID(w *writer, id wsv.AccountID) {
	w.stringLP(id.Name)
	w.stringLP(id.Domain)
}

func decodeAccountID(r *reader) (wsv.AccountID, error) {
	name, err := r.stringLP()
	if err != nil {
		return wsv.AccountID{}, err
	}
	domain, err := r.stringLP()
	if err != nil {
		return wsv.AccountID{}, err
	}
	return wsv.AccountID{Name: name, Domain: domain}, nil
}

func encodeAssetDefID(w *writer, id wsv.AssetDefinitionID) {
	w.stringLP(id.Name)
	w.stringLP(id.Domain)
}

func decodeAssetDefID(r *reader) (wsv.AssetDefinitionID, error) {
	name, err := r.stringLP()
	if err != nil {
		return wsv.AssetDefinitionID{}, err
	}
	domain, err := r.stringLP()
	if err != nil {
		return wsv.AssetDefinitionID{}, err
	}
	return wsv.AssetDefinitionID{Name: name, Domain: domain}, nil
}

func encodeAssetID(w *writer, id wsv.AssetID) {
	encodeAssetDefID(w, id.Definition)
	encodeAccountID(w, id.Account)
}

func decodeAssetID(r *reader) (wsv.AssetID, error) {
	def, err := decodeAssetDefID(r)
	if err != nil {
		return wsv.AssetID{}, err
	}
	acc, err := decodeAccountID(r)
	if err != nil {
		return wsv.AssetID{}, err
	}
	return wsv.AssetID{Definition: def, Account: acc}, nil
}

func encodeInstruction(w *writer, instr wsv.Instruction) {
	w.byte(byte(instr.Kind))
	w.stringLP(instr.DomainName)
	encodeAccountID(w, instr.AccountID)
	encodeAssetDefID(w, instr.AssetDefID)
	encodeAssetID(w, instr.AssetID)
	w.stringLP(instr.Key)
	w.stringLP(instr.Value)
	w.u64(instr.Amount)
	encodeAccountID(w, instr.Receiver)
}

func decodeInstruction(r *reader) (wsv.Instruction, error) {
	kind, err := r.byte()
	if err != nil {
		return wsv.Instruction{}, err
	}
	domainName, err := r.stringLP()
	if err != nil {
		return wsv.Instruction{}, err
	}
	accountID, err := decodeAccountID(r)
	if err != nil {
		return wsv.Instruction{}, err
	}
	assetDefID, err := decodeAssetDefID(r)
	if err != nil {
		return wsv.Instruction{}, err
	}
	assetID, err := decodeAssetID(r)
	if err != nil {
		return wsv.Instruction{}, err
	}
	key, err := r.stringLP()
	if err != nil {
		return wsv.Instruction{}, err
	}
	value, err := r.stringLP()
	if err != nil {
		return wsv.Instruction{}, err
	}
	amount, err := r.u64()
	if err != nil {
		return wsv.Instruction{}, err
	}
	receiver, err := decodeAccountID(r)
	if err != nil {
		return wsv.Instruction{}, err
	}
	return wsv.Instruction{
		Kind:       wsv.InstructionKind(kind),
		DomainName: domainName,
		AccountID:  accountID,
		AssetDefID: assetDefID,
		AssetID:    assetID,
		Key:        key,
		Value:      value,
		Amount:     amount,
		Receiver:   receiver,
	}, nil
}

func encodeTransaction(w *writer, tx wsv.Transaction) {
	encodeAccountID(w, tx.Authority)
	w.i64(tx.CreatedAt)
	w.stringLP(tx.Signature)
	w.u32(uint32(len(tx.Payload)))
	for _, instr := range tx.Payload {
		encodeInstruction(w, instr)
	}
}

func decodeTransaction(r *reader) (wsv.Transaction, error) {
	authority, err := decodeAccountID(r)
	if err != nil {
		return wsv.Transaction{}, err
	}
	createdAt, err := r.i64()
	if err != nil {
		return wsv.Transaction{}, err
	}
	sig, err := r.stringLP()
	if err != nil {
		return wsv.Transaction{}, err
	}
	n, err := r.u32()
	if err != nil {
		return wsv.Transaction{}, err
	}
	payload := make([]wsv.Instruction, n)
	for i := range payload {
		payload[i], err = decodeInstruction(r)
		if err != nil {
			return wsv.Transaction{}, err
		}
	}
	return wsv.Transaction{Authority: authority, CreatedAt: createdAt, Signature: sig, Payload: payload}, nil
}

func encodeRejected(w *writer, rej wsv.RejectedTransaction) {
	encodeTransaction(w, rej.Transaction)
	w.byte(byte(rej.Reason))
	w.stringLP(rej.Detail)
}

func decodeRejected(r *reader) (wsv.RejectedTransaction, error) {
	tx, err := decodeTransaction(r)
	if err != nil {
		return wsv.RejectedTransaction{}, err
	}
	reason, err := r.byte()
	if err != nil {
		return wsv.RejectedTransaction{}, err
	}
	detail, err := r.stringLP()
	if err != nil {
		return wsv.RejectedTransaction{}, err
	}
	return wsv.RejectedTransaction{Transaction: tx, Reason: wsv.RejectionReason(reason), Detail: detail}, nil
}

func encodeHeader(w *writer, h block.BlockHeader) {
	w.u64(h.Height)
	w.i64(h.Timestamp)
	w.bytes32(h.PreviousBlockHash)
	w.bytes32(h.TransactionMerkleRoot)
	w.bytes32(h.RejectedMerkleRoot)
	w.u32(h.ViewChangeIndex)
	encodePeers(w, h.CommittedWithTopology)
}

func decodeHeader(r *reader) (block.BlockHeader, error) {
	height, err := r.u64()
	if err != nil {
		return block.BlockHeader{}, err
	}
	ts, err := r.i64()
	if err != nil {
		return block.BlockHeader{}, err
	}
	prev, err := r.bytes32()
	if err != nil {
		return block.BlockHeader{}, err
	}
	txRoot, err := r.bytes32()
	if err != nil {
		return block.BlockHeader{}, err
	}
	rejRoot, err := r.bytes32()
	if err != nil {
		return block.BlockHeader{}, err
	}
	vci, err := r.u32()
	if err != nil {
		return block.BlockHeader{}, err
	}
	topo, err := decodePeers(r)
	if err != nil {
		return block.BlockHeader{}, err
	}
	return block.BlockHeader{
		Height:                height,
		Timestamp:             ts,
		PreviousBlockHash:     prev,
		TransactionMerkleRoot: txRoot,
		RejectedMerkleRoot:    rejRoot,
		ViewChangeIndex:       vci,
		CommittedWithTopology: topo,
	}, nil
}

func encodeSignature(w *writer, sig block.Signature) {
	encodePeer(w, sig.Signer)
	w.stringLP(sig.Signature)
}

func decodeSignature(r *reader) (block.Signature, error) {
	signer, err := decodePeer(r)
	if err != nil {
		return block.Signature{}, err
	}
	sig, err := r.stringLP()
	if err != nil {
		return block.Signature{}, err
	}
	return block.Signature{Signer: signer, Signature: sig}, nil
}

func encodePendingBlock(w *writer, b block.PendingBlock) {
	encodeHeader(w, b.Header)
	w.u32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		encodeTransaction(w, tx)
	}
	w.u32(uint32(len(b.Rejected)))
	for _, rej := range b.Rejected {
		encodeRejected(w, rej)
	}
	w.u32(uint32(len(b.Signatures)))
	for _, sig := range b.Signatures {
		encodeSignature(w, sig)
	}
}

func decodePendingBlock(r *reader) (block.PendingBlock, error) {
	header, err := decodeHeader(r)
	if err != nil {
		return block.PendingBlock{}, err
	}
	nTx, err := r.u32()
	if err != nil {
		return block.PendingBlock{}, err
	}
	var txs []wsv.Transaction
	if nTx > 0 {
		txs = make([]wsv.Transaction, nTx)
	}
	for i := range txs {
		txs[i], err = decodeTransaction(r)
		if err != nil {
			return block.PendingBlock{}, err
		}
	}
	nRej, err := r.u32()
	if err != nil {
		return block.PendingBlock{}, err
	}
	var rejected []wsv.RejectedTransaction
	if nRej > 0 {
		rejected = make([]wsv.RejectedTransaction, nRej)
	}
	for i := range rejected {
		rejected[i], err = decodeRejected(r)
		if err != nil {
			return block.PendingBlock{}, err
		}
	}
	nSig, err := r.u32()
	if err != nil {
		return block.PendingBlock{}, err
	}
	var sigs []block.Signature
	if nSig > 0 {
		sigs = make([]block.Signature, nSig)
	}
	for i := range sigs {
		sigs[i], err = decodeSignature(r)
		if err != nil {
			return block.PendingBlock{}, err
		}
	}
	return block.PendingBlock{Header: header, Transactions: txs, Rejected: rejected, Signatures: sigs}, nil
}

func encodeProof(w *writer, p viewchange.Proof) {
	w.u64(p.BlockHeight)
	w.u32(p.ViewIndex)
	w.byte(byte(p.Reason))
	encodePeer(w, p.Suggester)
	w.stringLP(p.Signature)
}

func decodeProof(r *reader) (viewchange.Proof, error) {
	height, err := r.u64()
	if err != nil {
		return viewchange.Proof{}, err
	}
	viewIndex, err := r.u32()
	if err != nil {
		return viewchange.Proof{}, err
	}
	reason, err := r.byte()
	if err != nil {
		return viewchange.Proof{}, err
	}
	suggester, err := decodePeer(r)
	if err != nil {
		return viewchange.Proof{}, err
	}
	sig, err := r.stringLP()
	if err != nil {
		return viewchange.Proof{}, err
	}
	return viewchange.Proof{
		BlockHeight: height,
		ViewIndex:   viewIndex,
		Reason:      viewchange.Reason(reason),
		Suggester:   suggester,
		Signature:   sig,
	}, nil
}

func encodeProofs(w *writer, proofs []viewchange.Proof) {
	w.u32(uint32(len(proofs)))
	for _, p := range proofs {
		encodeProof(w, p)
	}
}

func decodeProofs(r *reader) ([]viewchange.Proof, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]viewchange.Proof, n)
	for i := range out {
		out[i], err = decodeProof(r)
		if err != nil {
			return nil, fmt.Errorf("message: proof %d: %w", i, err)
		}
	}
	return out, nil
}
