package sumeragi

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/metrics"
	"github.com/tolelom/sumeragi/wsv"
)

// Handle is the concurrency-safe façade every other goroutine (the network
// listener, an RPC server, a metrics scrape handler) uses to talk to a
// running Sumeragi: hand it inbound packets, read a consistent WSV
// snapshot, and sample metrics — never touching the main loop's owned
// state directly.
type Handle struct {
	s *Sumeragi

	metricsMu sync.Mutex // serializes UpdateMetrics and its lastReportedHeight bookkeeping
}

// NewHandle wraps s in a Handle.
func NewHandle(s *Sumeragi) *Handle { return &Handle{s: s} }

// Start runs the main loop on a new goroutine and returns immediately.
func (h *Handle) Start() {
	go h.s.run()
}

// Stop signals the main loop to exit and blocks until it has. Safe to call
// at most once.
func (h *Handle) Stop() {
	close(h.s.done)
	<-h.s.stopped
}

// IncomingMessage hands packet to the main loop's ingress channel without
// blocking the caller (typically a netsvc read loop goroutine): if the
// channel is full, the packet is dropped and counted rather than backing up
// the network reader, since a slow consensus thread must not stall the
// transport.
func (h *Handle) IncomingMessage(packet message.Packet) {
	select {
	case h.s.incoming <- packet:
	default:
		h.s.metrics.IncDroppedMessages()
		h.s.logger.Warn("sumeragi: incoming channel full, dropping packet",
			zap.Stringer("kind", packet.Kind), zap.Stringer("sender", packet.Sender))
	}
}

// WSV calls f with the current published snapshot, held only for the
// duration of the call. f must not retain the pointer past the call.
func (h *Handle) WSV(f func(*wsv.WorldStateView)) {
	h.s.snapshotMu.RLock()
	defer h.s.snapshotMu.RUnlock()
	f(h.s.snapshot)
}

// Metrics returns the Prometheus collector set this handle reports into.
// Callers typically register Metrics().Registry with an HTTP /metrics
// handler.
func (h *Handle) Metrics() *metrics.Metrics { return h.s.metrics }

// UpdateMetrics walks every block committed since the last call and folds
// it into the Prometheus collectors: transaction counts, asset-quantity
// histogram samples, and the domain/account/queue/peer gauges sampled from
// the current WSV snapshot. It serializes on the handle's own metrics mutex
// and otherwise only reads the block store and the snapshot, independent of
// the main loop, so a metrics scrape never blocks block production.
func (h *Handle) UpdateMetrics() {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	s := h.s
	height, err := s.store.Height()
	if err != nil {
		s.logger.Warn("sumeragi: update metrics: read block log height", zap.Error(err))
		return
	}

	for hgt := s.lastReportedHeight + 1; hgt <= height; hgt++ {
		cb, err := s.store.GetBlockByHeight(hgt)
		if err != nil {
			s.logger.Warn("sumeragi: update metrics: read block", zap.Uint64("height", hgt), zap.Error(err))
			return
		}
		s.metrics.RecordTransactions(len(cb.Transactions), len(cb.Rejected))
		for _, tx := range cb.Transactions {
			for _, instr := range tx.Payload {
				switch instr.Kind {
				case wsv.InstructionMintAsset, wsv.InstructionBurnAsset, wsv.InstructionTransferAsset:
					s.metrics.ObserveTxAmount(instr.Amount)
				}
			}
		}
		if cb.Header.ViewChangeIndex > 0 {
			s.metrics.IncViewChanges()
		}
	}
	s.lastReportedHeight = height
	s.metrics.SetBlockHeight(height)
	s.metrics.SetQueueSize(s.queue.Len())
	s.metrics.SetConnectedPeers(len(s.network.OnlinePeers()))

	h.WSV(func(snap *wsv.WorldStateView) {
		names := snap.DomainNames()
		for _, name := range names {
			d, err := snap.Domain(name)
			if err != nil {
				continue
			}
			s.metrics.SetAccounts(name, len(d.Accounts))
		}
		s.metrics.SetDomains(len(names))

		if genesisTS := snap.GenesisTimestamp(); genesisTS > 0 {
			uptime := time.Duration(time.Now().UnixNano() - genesisTS)
			s.metrics.SetUptimeSinceGenesisMS(uptime.Milliseconds())
		}
	})
}
