package sumeragi

import (
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/viewchange"
	"github.com/tolelom/sumeragi/wsv"
)

// tryPropose builds and broadcasts the next block. It does not check this
// peer's role; run() calls it only when this peer is Leader and holds no
// voting block. Mirrors consensus/poa.go's
// ProduceBlock, generalized from "commit immediately" to "broadcast for
// set A's signatures."
func (s *Sumeragi) tryPropose() {
	txs := s.queue.PopUpTo(s.maxTxsPerBlock, s.notCommitted)

	// Execute speculatively against a disposable scratch copy first, so
	// the header's merkle roots are built from the same accepted/rejected
	// split every receiver will independently recompute — a proposal
	// built from the raw, unvalidated queue output would have its
	// rejected root rejected by every honest receiver the instant any
	// popped transaction turned out to be invalid.
	scratch := s.wsv.Clone()
	scratch.SetEmitter(nil)
	result, err := scratch.Apply(s.currentHeight()+1, [32]byte{}, s.wsv.LatestBlockHash(),
		s.viewChangeIndex, time.Now().UnixNano(), txs, s.validator)
	if err != nil {
		s.logger.Error("sumeragi: speculative apply failed, skipping this round's proposal", zap.Error(err))
		return
	}

	header := block.NewHeader(s.currentHeight()+1, s.wsv.LatestBlockHash(), s.viewChangeIndex, s.topo, result.Accepted, result.Rejected)
	proposal := block.PendingBlock{Header: header, Transactions: result.Accepted, Rejected: result.Rejected}
	proposal.AddSignature(block.Sign(header, s.self, s.privKey))

	vb := block.NewVotingBlock(proposal)
	s.votingBlock = &vb

	s.logger.Info("sumeragi: proposing block",
		zap.Uint64("height", header.Height), zap.Int("accepted", len(result.Accepted)), zap.Int("rejected", len(result.Rejected)))
	s.network.Broadcast(otherPeers(s.topo, s.self), message.NewBlockCreated(s.self, s.proofChain.Proofs(), proposal))
}

// onBlockCreated handles a received proposal: verify it came from the
// Leader, verify its linkage and signature, validate its transactions
// against a disposable scratch WSV, and sign it if this peer's role
// requires a signature.
func (s *Sumeragi) onBlockCreated(proposal block.PendingBlock) error {
	leader := s.topo.Leader()
	if len(proposal.Signatures) == 0 || !proposal.Signatures[0].Signer.Equal(leader) {
		return transient("sumeragi: proposal not signed by current Leader %s", leader)
	}
	if s.votingBlock != nil {
		return transient("sumeragi: already holding a voting block for this round, ignoring proposal")
	}
	if proposal.Header.ViewChangeIndex != s.viewChangeIndex {
		return transient("sumeragi: proposal view %d does not match current view %d",
			proposal.Header.ViewChangeIndex, s.viewChangeIndex)
	}
	if err := proposal.Header.VerifyLinkage(s.currentHeight(), s.wsv.LatestBlockHash()); err != nil {
		return blockInvalid("sumeragi: %w", err)
	}
	if err := proposal.VerifySignatures(); err != nil {
		return blockInvalid("sumeragi: proposal signature: %w", err)
	}

	scratch := s.wsv.Clone()
	scratch.SetEmitter(nil) // speculative validation must never surface domain events
	result, err := scratch.Apply(proposal.Header.Height, proposal.Header.Hash(), proposal.Header.PreviousBlockHash,
		proposal.Header.ViewChangeIndex, proposal.Header.Timestamp, proposal.Transactions, s.validator)
	if err != nil {
		return blockInvalid("sumeragi: proposal failed to apply: %w", err)
	}
	if len(result.Rejected) != 0 {
		return blockInvalid("sumeragi: proposal's claimed-accepted transactions include %d this peer rejects", len(result.Rejected))
	}
	if got, want := block.ComputeTxRoot(result.Accepted), proposal.Header.TransactionMerkleRoot; got != want {
		return blockInvalid("sumeragi: accepted tx root mismatch: got %x want %x", got, want)
	}
	if got, want := block.ComputeRejectedRoot(proposal.Rejected), proposal.Header.RejectedMerkleRoot; got != want {
		return blockInvalid("sumeragi: rejected tx root mismatch: got %x want %x", got, want)
	}
	// Confirm the Leader isn't falsely marking a legitimate transaction as
	// rejected to censor it: re-run each claimed rejection against the
	// state the accepted set actually produced. Ordering doesn't matter
	// here — a rejected transaction never mutates state, so testing it
	// after the accepted set applies is equivalent to testing it in its
	// original interleaved position.
	for _, rej := range proposal.Rejected {
		if !wouldReject(scratch, rej.Transaction, s.validator) {
			return blockInvalid("sumeragi: proposal marks a valid transaction as rejected: %s", rej.Transaction.Hash())
		}
	}

	vb := block.NewVotingBlock(proposal)
	s.votingBlock = &vb
	s.logger.Info("sumeragi: accepted proposal", zap.Uint64("height", proposal.Header.Height))

	role := s.role()
	if role == topology.RoleObservingPeer {
		return nil
	}
	sig := block.Sign(proposal.Header, s.self, s.privKey)
	if role == topology.RoleProxyTail {
		return s.aggregateSignature(sig)
	}
	return s.network.Send(s.topo.ProxyTail(), message.NewBlockSigned(s.self, s.proofChain.Proofs(), sig))
}

// onBlockSigned is only meaningful for the ProxyTail: it aggregates set A's
// (and, via onBlockCreated, its own) signatures onto the held voting block
// and broadcasts BlockCommitted once quorum is reached.
func (s *Sumeragi) onBlockSigned(sig block.Signature) error {
	if s.role() != topology.RoleProxyTail {
		return transient("sumeragi: received BlockSigned but not ProxyTail this round")
	}
	return s.aggregateSignature(sig)
}

func (s *Sumeragi) aggregateSignature(sig block.Signature) error {
	if s.votingBlock == nil {
		return transient("sumeragi: no voting block to aggregate a signature onto")
	}
	if !s.topo.Contains(sig.Signer) {
		return transient("sumeragi: signature from non-member %s", sig.Signer)
	}
	if err := sig.Verify(s.votingBlock.Block.Header); err != nil {
		return blockInvalid("sumeragi: %w", err)
	}
	s.votingBlock.Block.AddSignature(sig)

	if s.votingBlock.Block.DistinctSigners(s.topo) < s.topo.Quorum() {
		return nil
	}

	committed := s.votingBlock.Block
	s.network.Broadcast(otherPeers(s.topo, s.self), message.NewBlockCommitted(s.self, s.proofChain.Proofs(), committed))
	return s.commit(committed)
}

// onBlockCommitted handles a BlockCommitted broadcast from the ProxyTail: it
// verifies quorum independently rather than trusting the sender, then
// commits. This is also the path a peer that is itself neither in set A nor
// ProxyTail uses to learn of and apply the new block.
func (s *Sumeragi) onBlockCommitted(committed block.PendingBlock) error {
	// A block at the current height with a higher view-change index is a
	// soft-fork candidate: it passes on to the quorum check and commit().
	replacesHead := committed.Header.Height > 0 && committed.Header.Height == s.currentHeight() &&
		committed.Header.ViewChangeIndex > s.wsv.LatestBlockViewChangeIndex()
	if committed.Header.Height != s.currentHeight()+1 && !replacesHead {
		return transient("sumeragi: committed block height %d does not follow current height %d",
			committed.Header.Height, s.currentHeight())
	}
	if err := committed.VerifySignatures(); err != nil {
		return blockInvalid("sumeragi: committed block signatures: %w", err)
	}
	if committed.DistinctSigners(s.topo) < s.topo.Quorum() {
		return blockInvalid("sumeragi: committed block has %d distinct signatures, need %d",
			committed.DistinctSigners(s.topo), s.topo.Quorum())
	}
	return s.commit(committed)
}

// commit applies committed to the authoritative WSV, persists it, publishes
// a fresh reader snapshot, and advances round state for the next height.
// softFork, if true, first rolls s.wsv back to the snapshot taken before
// the previous commit — spec.md §4.4's one-block-deep soft-fork recovery,
// used when this peer had already committed a conflicting block at the
// same height under an earlier view.
func (s *Sumeragi) commit(committed block.PendingBlock) error {
	if err := committed.Header.VerifyLinkage(s.wsv.Height(), s.wsv.LatestBlockHash()); err != nil {
		if !s.softFork(committed) {
			return blockInvalid("sumeragi: commit linkage: %w", err)
		}
	}

	before := s.wsv.Clone()
	before.SetEmitter(nil)
	result, err := s.wsv.Apply(committed.Header.Height, committed.Header.Hash(), committed.Header.PreviousBlockHash,
		committed.Header.ViewChangeIndex, committed.Header.Timestamp, committed.Transactions, s.validator)
	if err != nil {
		return fatalf("sumeragi: commit: apply block %d: %w", committed.Header.Height, err)
	}
	cb := block.CommittedBlock{PendingBlock: committed}
	cb.Rejected = result.Rejected
	if err := s.store.Store(cb); err != nil {
		return fatalf("sumeragi: commit: persist block %d: %w", committed.Header.Height, err)
	}

	s.preCommitWSV = before
	s.publishSnapshot(s.wsv.Clone())
	s.queue.Remove(hashesOf(committed.Transactions))
	s.markCommitted(committed.Transactions)

	s.viewChangeIndex = committed.Header.ViewChangeIndex
	s.topo = s.topologyAfter(cb)
	s.proofChain = viewchange.NewProofChain(s.currentHeight()+1, s.viewChangeIndex)
	s.votingBlock = nil
	s.roundStart = time.Now()
	s.timeoutProofSent = false

	s.logger.Info("sumeragi: committed block",
		zap.Uint64("height", committed.Header.Height),
		zap.Int("accepted", len(result.Accepted)), zap.Int("rejected", len(result.Rejected)))
	return nil
}

// softFork rolls s.wsv back to the state it held before the last commit and
// reports whether doing so makes committed's linkage valid. A commit whose
// linkage fails even after rollback belongs to a fork more than one block
// deep, which this node cannot recover from without a full re-sync.
func (s *Sumeragi) softFork(committed block.PendingBlock) bool {
	if s.preCommitWSV == nil {
		return false
	}
	if err := committed.Header.VerifyLinkage(s.preCommitWSV.Height(), s.preCommitWSV.LatestBlockHash()); err != nil {
		return false
	}
	s.logger.Warn("sumeragi: rolling back one block for soft-fork recovery",
		zap.Uint64("height", committed.Header.Height))
	s.wsv = s.preCommitWSV.Clone()
	s.wsv.SetEmitter(s.emitter)
	return true
}

// onViewChangeSuggested records proof in the current round's proof chain
// and, once quorum is reached, advances the view: bumps viewChangeIndex,
// rotates set A, and restarts the round at the same height. spec.md §4.4.
func (s *Sumeragi) onViewChangeSuggested(proof viewchange.Proof) error {
	if err := s.proofChain.Push(proof); err != nil {
		return transient("sumeragi: %w", err)
	}
	if !s.proofChain.VerifyQuorum(s.topo) {
		return nil
	}

	s.viewChangeIndex++
	s.topo = s.topo.RotateSetA()
	s.proofChain = viewchange.NewProofChain(s.currentHeight()+1, s.viewChangeIndex)
	s.votingBlock = nil
	s.roundStart = time.Now()
	s.timeoutProofSent = false
	s.metrics.IncViewChanges()
	s.logger.Warn("sumeragi: view change", zap.Uint32("view_change_index", s.viewChangeIndex))
	return nil
}

// checkTimeout emits this peer's own view-change proof once commitTimeLimit
// has elapsed since the round started without a commit, at most once per
// round. The reason records whether a proposal was ever seen this round.
func (s *Sumeragi) checkTimeout() {
	if s.timeoutProofSent || time.Since(s.roundStart) <= s.commitTimeLimit {
		return
	}
	reason := viewchange.ReasonLeaderTimeout
	if s.votingBlock != nil {
		reason = viewchange.ReasonCommitTimeout
	}
	proof := viewchange.Sign(s.currentHeight()+1, s.viewChangeIndex, reason, s.self, s.privKey)
	if err := s.proofChain.Push(proof); err != nil {
		s.logger.Warn("sumeragi: push own view-change proof", zap.Error(err))
		return
	}
	s.timeoutProofSent = true
	s.logger.Warn("sumeragi: round timed out, suggesting view change", zap.Stringer("reason", reason))
	s.network.Broadcast(otherPeers(s.topo, s.self), message.NewViewChangeSuggested(s.self, s.proofChain.Proofs(), proof))
	if s.proofChain.VerifyQuorum(s.topo) {
		if err := s.onViewChangeSuggested(proof); err != nil {
			s.logger.Warn("sumeragi: apply own view-change proof", zap.Error(err))
		}
	}
}

// onTransactionGossip admits relayed transactions into the local queue,
// ignoring ones already queued, already committed, or malformed — gossip
// input is untrusted and a rejection here must never escalate past a log
// line.
func (s *Sumeragi) onTransactionGossip(txs []wsv.Transaction) {
	for _, tx := range txs {
		if !s.notCommitted(tx) {
			continue
		}
		if err := s.queue.Push(tx); err != nil {
			s.logger.Debug("sumeragi: gossip transaction not queued", zap.Error(err))
		}
	}
}

// wouldReject reports whether tx fails to apply against state, using a
// disposable clone so the probe never mutates the caller's scratch copy.
func wouldReject(state *wsv.WorldStateView, tx wsv.Transaction, validator wsv.TransactionValidator) bool {
	probe := state.Clone()
	probe.SetEmitter(nil)
	result, err := probe.Apply(probe.Height()+1, [32]byte{}, probe.LatestBlockHash(), 0, 0, []wsv.Transaction{tx}, validator)
	if err != nil {
		return true
	}
	return len(result.Rejected) == 1
}

func otherPeers(topo topology.Topology, self topology.Peer) []topology.Peer {
	peers := topo.Peers()
	out := make([]topology.Peer, 0, len(peers))
	for _, p := range peers {
		if !p.Equal(self) {
			out = append(out, p)
		}
	}
	return out
}

func hashesOf(txs []wsv.Transaction) [][32]byte {
	out := make([][32]byte, len(txs))
	for i, tx := range txs {
		out[i] = tx.Hash()
	}
	return out
}
