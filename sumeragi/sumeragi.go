// Package sumeragi implements the consensus main loop: role-aware block
// proposal, signature aggregation, commit, and the view-change escalation
// that replaces a stalled Leader, wired on top of wsv, block, topology,
// viewchange, message, kura, netsvc and queue. Grounded on
// consensus/poa.go's engine shape, generalized from single-proposer PoA to
// Sumeragi's four-role rotating topology.
package sumeragi

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/events"
	"github.com/tolelom/sumeragi/kura"
	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/metrics"
	"github.com/tolelom/sumeragi/netsvc"
	"github.com/tolelom/sumeragi/queue"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/viewchange"
	"github.com/tolelom/sumeragi/wsv"
)

// incomingChannelCapacity bounds the ingress queue; Handle.IncomingMessage
// counts each packet it drops when the queue is full in dropped_messages.
// spec.md §6 calls for a bounded
// channel rather than letting a message storm grow the heap unbounded.
const incomingChannelCapacity = 100

// Deps bundles every collaborator Sumeragi needs, mirroring consensus.New's
// parameter list generalized from PoA's five collaborators to Sumeragi's
// larger set.
type Deps struct {
	Self    topology.Peer
	PrivKey crypto.PrivateKey

	InitialTopology topology.Topology
	MaxFaultyPeers  int

	Store     kura.BlockStore
	Queue     queue.Queue
	Network   netsvc.Network
	Validator wsv.TransactionValidator

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Emitter *events.Emitter

	BlockTime          time.Duration
	CommitTimeLimit    time.Duration
	MaxTxsPerBlock     int
	DebugForceSoftFork bool
}

// Sumeragi is the consensus engine for one peer. Every field below
// comment-grouped "main-loop owned" is touched only by the goroutine
// running run(), except lastReportedHeight, which Handle.UpdateMetrics
// alone reads and writes under the handle's metrics mutex. The handle
// façade (handle.go) is the one permitted cross-goroutine access path: it
// reads the published snapshot, writes to the bounded incoming channel, and
// for metrics reads the block store, queue length and online peers.
type Sumeragi struct {
	self    topology.Peer
	privKey crypto.PrivateKey

	store     kura.BlockStore
	queue     queue.Queue
	network   netsvc.Network
	validator wsv.TransactionValidator
	logger    *zap.Logger
	metrics   *metrics.Metrics
	emitter   *events.Emitter

	blockTime          time.Duration
	commitTimeLimit    time.Duration
	maxTxsPerBlock     int
	maxFaultyPeers     int
	debugForceSoftFork bool

	// main-loop owned
	wsv                *wsv.WorldStateView
	preCommitWSV       *wsv.WorldStateView
	topo               topology.Topology
	viewChangeIndex    uint32
	votingBlock        *block.VotingBlock
	proofChain         *viewchange.ProofChain
	roundStart         time.Time
	timeoutProofSent   bool
	committedHashes    map[[32]byte]time.Time
	lastReportedHeight uint64

	// cross-goroutine
	snapshotMu sync.RWMutex
	snapshot   *wsv.WorldStateView

	incoming chan message.Packet
	done     chan struct{}
	stopped  chan struct{}
}

// New builds a Sumeragi ready to Start. It replays every block already in
// store against a fresh WorldStateView, so a restarted node resumes with
// the same state a continuously running peer would have.
func New(d Deps) (*Sumeragi, error) {
	if d.Store == nil || d.Queue == nil || d.Network == nil || d.Validator == nil {
		return nil, fmt.Errorf("sumeragi: Store, Queue, Network and Validator are required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Emitter == nil {
		d.Emitter = events.NewEmitter(d.Logger)
	}
	if d.BlockTime <= 0 {
		d.BlockTime = time.Second
	}
	if d.CommitTimeLimit <= d.BlockTime {
		d.CommitTimeLimit = 4 * d.BlockTime
	}
	if d.MaxTxsPerBlock <= 0 {
		d.MaxTxsPerBlock = 500
	}

	s := &Sumeragi{
		self:               d.Self,
		privKey:            d.PrivKey,
		store:              d.Store,
		queue:              d.Queue,
		network:            d.Network,
		validator:          d.Validator,
		logger:             d.Logger,
		metrics:            d.Metrics,
		emitter:            d.Emitter,
		blockTime:          d.BlockTime,
		commitTimeLimit:    d.CommitTimeLimit,
		maxTxsPerBlock:     d.MaxTxsPerBlock,
		maxFaultyPeers:     d.MaxFaultyPeers,
		debugForceSoftFork: d.DebugForceSoftFork,
		topo:               d.InitialTopology,
		wsv:                wsv.New(),
		committedHashes:    make(map[[32]byte]time.Time),
		incoming:           make(chan message.Packet, incomingChannelCapacity),
		done:               make(chan struct{}),
		stopped:            make(chan struct{}),
	}
	s.wsv.SetEmitter(s.emitter)

	if err := s.replay(); err != nil {
		return nil, err
	}
	s.snapshot = s.wsv.Clone()
	s.preCommitWSV = s.wsv.Clone()
	s.proofChain = viewchange.NewProofChain(s.wsv.Height()+1, s.viewChangeIndex)
	s.roundStart = time.Now()
	return s, nil
}

// replay re-applies every block kura already holds, in order, against s.wsv,
// verifying each committed block's signatures and linkage before applying
// it. A mismatch here means the block log was corrupted or tampered with
// since it was written, and the node must not continue with a WSV it cannot
// trust — spec.md §5's block-hash init assertion.
func (s *Sumeragi) replay() error {
	height, err := s.store.Height()
	if err != nil {
		return fatalf("sumeragi: read block log height: %w", err)
	}

	for h := uint64(1); h <= height; h++ {
		cb, err := s.store.GetBlockByHeight(h)
		if err != nil {
			return fatalf("sumeragi: replay: read block %d: %w", h, err)
		}
		if err := cb.Header.VerifyLinkage(s.wsv.Height(), s.wsv.LatestBlockHash()); err != nil {
			return fatalf("sumeragi: replay: block %d: %w", h, err)
		}
		if err := cb.VerifySignatures(); err != nil {
			return fatalf("sumeragi: replay: block %d signatures: %w", h, err)
		}

		result, err := s.wsv.Apply(cb.Header.Height, cb.Header.Hash(), cb.Header.PreviousBlockHash,
			cb.Header.ViewChangeIndex, cb.Header.Timestamp, cb.Transactions, s.validator)
		if err != nil {
			return fatalf("sumeragi: replay: apply block %d: %w", h, err)
		}
		if len(result.Rejected) != len(cb.Rejected) {
			return fatalf("sumeragi: replay: block %d diverged on replay: %d rejected now, %d stored",
				h, len(result.Rejected), len(cb.Rejected))
		}

		s.viewChangeIndex = cb.Header.ViewChangeIndex
		s.markCommitted(cb.Transactions)
		if h == height {
			s.topo = s.topologyAfter(cb)
		}
	}
	if height == 0 {
		s.logger.Info("sumeragi: no blocks in log, waiting for genesis")
	} else {
		s.logger.Info("sumeragi: replay complete", zap.Uint64("height", height))
	}
	return nil
}

// topologyAfter recomputes the topology the round following committed
// should use: the peer set it was committed with, rotated one position in
// set A, the same recipe the main loop applies after every live commit so a
// restarted node's role assignment matches what it would be had it never
// stopped.
func (s *Sumeragi) topologyAfter(committed block.CommittedBlock) topology.Topology {
	topo, err := topology.New(committed.Header.CommittedWithTopology, s.maxFaultyPeers)
	if err != nil {
		// The stored header's own topology snapshot failing to
		// reconstruct means the log itself is inconsistent with this
		// node's configured max_faulty_peers; there is no safe topology
		// to fall back to.
		s.logger.Fatal("sumeragi: rebuild topology from committed header", zap.Error(err))
	}
	return topo.RotateSetA()
}

func (s *Sumeragi) markCommitted(txs []wsv.Transaction) {
	now := time.Now()
	for _, tx := range txs {
		s.committedHashes[tx.Hash()] = now
	}
	s.pruneCommittedHashes(now)
}

// pruneCommittedHashes drops entries older than the queue's own maxAge
// admission window: a transaction that old could never be re-pushed, so
// there's no replay it still needs to guard against.
func (s *Sumeragi) pruneCommittedHashes(now time.Time) {
	const retain = time.Hour
	for h, seenAt := range s.committedHashes {
		if now.Sub(seenAt) > retain {
			delete(s.committedHashes, h)
		}
	}
}

// notCommitted is the PopUpTo accept predicate: true for any transaction
// not already recorded in committedHashes, the "excludes transactions
// already in WSV's history" contract of spec.md §6 that wsv.Transaction has
// no built-in API for, since only Sumeragi (not WSV) tracks seen-tx-hash
// history across blocks.
func (s *Sumeragi) notCommitted(tx wsv.Transaction) bool {
	_, seen := s.committedHashes[tx.Hash()]
	return !seen
}

// publishSnapshot makes clone the new reader-visible WSV, swapped under
// snapshotMu so Handle.WSV never observes a half-updated snapshot.
func (s *Sumeragi) publishSnapshot(clone *wsv.WorldStateView) {
	s.snapshotMu.Lock()
	s.snapshot = clone
	s.snapshotMu.Unlock()
}

// role returns this peer's current role, defaulting to ObservingPeer if it
// has somehow fallen out of the topology (should not happen while
// self-membership holds for the lifetime of a configured node, but Sumeragi
// must not panic if it ever does).
func (s *Sumeragi) role() topology.Role {
	r, _ := s.topo.RoleOf(s.self)
	return r
}

func (s *Sumeragi) currentHeight() uint64 { return s.wsv.Height() }
