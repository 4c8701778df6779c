package sumeragi

import (
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/topology"
)

// idleTick is how often run() wakes up to check timers and try to propose
// when there is nothing in the incoming channel to drain — short enough
// that block_time/commit_time deadlines are noticed promptly, long enough
// not to spin the consensus goroutine.
const idleTick = 20 * time.Millisecond

// run is the consensus goroutine body, grounded on consensus/poa.go's
// Run but generalized from a single ticker firing ProduceBlock to
// spec.md §4.5's priority-ordered step list: drain messages, check view-
// change timers, try to propose if Leader, sleep.
func (s *Sumeragi) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case pkt := <-s.incoming:
			s.handlePacket(pkt)
			s.drainIncoming()
		case <-ticker.C:
		}

		s.checkTimeout()
		if s.role() == topology.RoleLeader && s.votingBlock == nil && time.Since(s.roundStart) >= s.blockTime {
			s.tryPropose()
		}
	}
}

// drainIncoming processes every packet already queued without blocking, so
// a burst of network traffic is handled within one loop iteration instead
// of trickling in one tick at a time.
func (s *Sumeragi) drainIncoming() {
	for {
		select {
		case pkt := <-s.incoming:
			s.handlePacket(pkt)
		default:
			return
		}
	}
}

func (s *Sumeragi) handlePacket(pkt message.Packet) {
	for _, proof := range pkt.Proofs {
		_ = s.proofChain.Push(proof) // passive proof learning; height/view mismatches are expected noise
	}

	var err error
	switch pkt.Kind {
	case message.KindBlockCreated:
		err = s.onBlockCreated(pkt.Block)
	case message.KindBlockSigned:
		err = s.onBlockSigned(pkt.Signature)
	case message.KindBlockCommitted:
		err = s.onBlockCommitted(pkt.Committed)
	case message.KindBlockSyncUpdate:
		err = s.onBlockSyncUpdate(pkt.Block)
	case message.KindViewChangeSuggested:
		err = s.onViewChangeSuggested(pkt.ViewChangeProof)
	case message.KindTransactionGossip:
		s.onTransactionGossip(pkt.Transactions)
		return
	default:
		s.logger.Warn("sumeragi: unknown packet kind", zap.Int("kind", int(pkt.Kind)))
		return
	}
	if err == nil {
		return
	}
	switch classify(err) {
	case KindFatal:
		s.logger.Fatal("sumeragi: fatal error handling packet", zap.Stringer("kind", pkt.Kind), zap.Error(err))
	case KindBlockInvalid:
		s.logger.Warn("sumeragi: rejecting invalid block", zap.Stringer("kind", pkt.Kind), zap.Error(err))
	default:
		s.logger.Debug("sumeragi: transient error handling packet", zap.Stringer("kind", pkt.Kind), zap.Error(err))
	}
}

// onBlockSyncUpdate lets a lagging peer catch up on a single missed block
// sent directly rather than broadcast, reusing the same verify-and-apply
// path as a live commit.
func (s *Sumeragi) onBlockSyncUpdate(missed block.PendingBlock) error {
	if missed.Header.Height <= s.currentHeight() {
		return transient("sumeragi: sync update for height %d, already at %d", missed.Header.Height, s.currentHeight())
	}
	if missed.Header.Height != s.currentHeight()+1 {
		return transient("sumeragi: sync update for height %d is not the immediate next block (%d)",
			missed.Header.Height, s.currentHeight()+1)
	}
	return s.onBlockCommitted(missed)
}
