package wsv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/sumeragi/events"
)

// WorldStateView is the concurrent domain/account/asset store the consensus
// core applies committed transactions against. A single main-loop goroutine
// is the only writer; readers call Clone to obtain a point-in-time copy
// safe to read without holding wsv's lock (spec.md §5's single-writer,
// many-reader model).
type WorldStateView struct {
	mu sync.RWMutex

	domains map[string]*Domain

	height                     uint64
	latestBlockHash            [32]byte
	previousBlockHash          [32]byte
	genesisTimestamp           int64
	latestBlockViewChangeIndex uint32

	// Telemetry. txAmountsSum/txAmountsCount are the cumulative sum and
	// count of asset quantities moved by Mint/Burn/Transfer, read through
	// TxAmountsTotals. sumeragi.Handle.UpdateMetrics does not use them; it
	// observes each instruction's amount from the block log.
	txAmountsSum   uint64
	txAmountsCount uint64

	emitter *events.Emitter
}

// New returns an empty WorldStateView, ready to apply a genesis block.
func New() *WorldStateView {
	return &WorldStateView{domains: make(map[string]*Domain)}
}

// SetEmitter registers the event sink Apply notifies once a block's
// instructions have committed. A WorldStateView with no emitter set
// applies blocks exactly as before, just without notifications.
func (w *WorldStateView) SetEmitter(e *events.Emitter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitter = e
}

// Height returns the number of blocks applied so far.
func (w *WorldStateView) Height() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.height
}

// LatestBlockHash returns the hash of the most recently applied block.
func (w *WorldStateView) LatestBlockHash() [32]byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latestBlockHash
}

// PreviousBlockHash returns the hash of the block before the latest one.
func (w *WorldStateView) PreviousBlockHash() [32]byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.previousBlockHash
}

// LatestBlockViewChangeIndex returns the view-change index recorded by the
// most recently applied block's header.
func (w *WorldStateView) LatestBlockViewChangeIndex() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latestBlockViewChangeIndex
}

// GenesisTimestamp returns the timestamp recorded at height 1, or zero if
// genesis has not applied yet.
func (w *WorldStateView) GenesisTimestamp() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.genesisTimestamp
}

// Domain returns a read-only view of the named domain.
func (w *WorldStateView) Domain(name string) (*Domain, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d, ok := w.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDomainNotFound, name)
	}
	return d, nil
}

// DomainNames returns the names of every registered domain, unordered.
// Used by metrics collection to walk the full domain set without the
// caller needing access to WorldStateView's internal map.
func (w *WorldStateView) DomainNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.domains))
	for name := range w.domains {
		names = append(names, name)
	}
	return names
}

// DomainMut returns an exclusive view of the named domain for direct
// mutation outside of Apply.
// Callers must not retain the pointer past the call that uses it.
func (w *WorldStateView) DomainMut(name string) (*Domain, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.domainMut(name)
}

func (w *WorldStateView) domainMut(name string) (*Domain, error) {
	d, ok := w.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDomainNotFound, name)
	}
	return d, nil
}

func (w *WorldStateView) accountMut(id AccountID) (*Account, error) {
	d, err := w.domainMut(id.Domain)
	if err != nil {
		return nil, err
	}
	acc, ok := d.Accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return acc, nil
}

func (w *WorldStateView) assetDefinition(id AssetDefinitionID) (*AssetDefinitionEntry, error) {
	d, err := w.domainMut(id.Domain)
	if err != nil {
		return nil, err
	}
	def, ok := d.AssetDefinitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetDefinitionNotFound, id)
	}
	return def, nil
}

// Clone deep-copies the WorldStateView. Used both to publish a new reader
// snapshot after commit and to build the scratch copy a proposal is
// validated against before the main loop's authoritative state is touched.
func (w *WorldStateView) Clone() *WorldStateView {
	w.mu.RLock()
	defer w.mu.RUnlock()

	c := &WorldStateView{
		domains:                    make(map[string]*Domain, len(w.domains)),
		height:                     w.height,
		latestBlockHash:            w.latestBlockHash,
		previousBlockHash:          w.previousBlockHash,
		genesisTimestamp:           w.genesisTimestamp,
		latestBlockViewChangeIndex: w.latestBlockViewChangeIndex,
		txAmountsSum:               w.txAmountsSum,
		txAmountsCount:             w.txAmountsCount,
		emitter:                    w.emitter,
	}
	for name, d := range w.domains {
		c.domains[name] = d.clone()
	}
	return c
}

// ApplyResult summarizes the outcome of applying one block's transactions.
type ApplyResult struct {
	Accepted []Transaction
	Rejected []RejectedTransaction
}

// Apply executes block transactions against w in order, then advances w's
// block-level bookkeeping. Apply is atomic with respect to readers: it
// mutates a private clone first and swaps it in only once every transaction
// has been processed (accepted or rejected), so a caller never observes a
// partially-applied block. height must be exactly one greater than the
// current height (spec.md §4.3's strict-monotonicity invariant).
func (w *WorldStateView) Apply(height uint64, blockHash, previousBlockHash [32]byte, viewChangeIndex uint32, timestamp int64, txs []Transaction, validator TransactionValidator) (ApplyResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if height != w.height+1 {
		return ApplyResult{}, fmt.Errorf("%w: have %d, got block for %d", ErrHeightNotMonotonic, w.height, height)
	}

	scratch := &WorldStateView{
		domains:        make(map[string]*Domain, len(w.domains)),
		txAmountsSum:   w.txAmountsSum,
		txAmountsCount: w.txAmountsCount,
	}
	for name, d := range w.domains {
		scratch.domains[name] = d.clone()
	}

	result := ApplyResult{}
	for _, tx := range txs {
		if err := validator.Validate(tx, scratch); err != nil {
			result.Rejected = append(result.Rejected, RejectedTransaction{
				Transaction: tx,
				Reason:      RejectionValidatorRejected,
				Detail:      err.Error(),
			})
			continue
		}

		if err := scratch.applyInstructions(tx.Payload); err != nil {
			result.Rejected = append(result.Rejected, RejectedTransaction{
				Transaction: tx,
				Reason:      RejectionInstructionFailed,
				Detail:      err.Error(),
			})
			continue
		}
		result.Accepted = append(result.Accepted, tx)
	}

	w.domains = scratch.domains
	w.txAmountsSum = scratch.txAmountsSum
	w.txAmountsCount = scratch.txAmountsCount
	w.height = height
	w.previousBlockHash = previousBlockHash
	w.latestBlockHash = blockHash
	w.latestBlockViewChangeIndex = viewChangeIndex
	if height == 1 {
		w.genesisTimestamp = timestamp
	}

	if w.emitter != nil {
		for _, tx := range result.Accepted {
			for _, instr := range tx.Payload {
				ev := eventFor(instr)
				ev.Height = height
				w.emitter.Emit(ev)
			}
		}
		w.emitter.Emit(events.Event{
			Type:   events.EventBlockCommitted,
			Height: height,
			Data:   map[string]any{"accepted": len(result.Accepted), "rejected": len(result.Rejected)},
		})
	}
	return result, nil
}

// applyInstructions runs payload against w, restoring w's domains and
// telemetry counters to their pre-call values if any instruction fails, so
// a transaction's partial effects never reach the authoritative state. The
// rollback reassigns fields individually rather than copying a whole
// WorldStateView value, since WorldStateView embeds a sync.RWMutex.
func (w *WorldStateView) applyInstructions(payload []Instruction) error {
	domainsBackup := make(map[string]*Domain, len(w.domains))
	for name, d := range w.domains {
		domainsBackup[name] = d.clone()
	}
	sumBackup, countBackup := w.txAmountsSum, w.txAmountsCount

	for _, instr := range payload {
		if err := w.Execute(instr); err != nil {
			w.domains = domainsBackup
			w.txAmountsSum, w.txAmountsCount = sumBackup, countBackup
			return err
		}
	}
	return nil
}

// TxAmountsTotals returns the cumulative sum and count of asset-quantity-
// changing instructions executed so far, WSV's tx_amounts telemetry
// counters from spec.md §3.
func (w *WorldStateView) TxAmountsTotals() (sum, count uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.txAmountsSum, w.txAmountsCount
}

// ComputeRoot returns the deterministic hash of the full domain/account/
// asset hierarchy: every domain's every account's every asset and every
// metadata entry, sorted for determinism and length-prefix encoded before
// hashing — the same shape storage.StateDB.ComputeRoot used over its
// key-value buffer, adapted here to WSV's typed hierarchy instead of a flat
// byte-string keyspace.
func (w *WorldStateView) ComputeRoot() [32]byte {
	w.mu.RLock()
	defer w.mu.RUnlock()

	domainNames := make([]string, 0, len(w.domains))
	for name := range w.domains {
		domainNames = append(domainNames, name)
	}
	sort.Strings(domainNames)

	var buf bytes.Buffer
	for _, name := range domainNames {
		d := w.domains[name]
		writeLP(&buf, []byte(name))

		accountIDs := make([]string, 0, len(d.Accounts))
		accountsByKey := make(map[string]*Account, len(d.Accounts))
		for id, acc := range d.Accounts {
			key := id.String()
			accountIDs = append(accountIDs, key)
			accountsByKey[key] = acc
		}
		sort.Strings(accountIDs)

		for _, key := range accountIDs {
			acc := accountsByKey[key]
			writeLP(&buf, []byte(key))

			assetKeys := make([]string, 0, len(acc.Assets))
			assetsByKey := make(map[string]*Asset, len(acc.Assets))
			for id, asset := range acc.Assets {
				k := id.String()
				assetKeys = append(assetKeys, k)
				assetsByKey[k] = asset
			}
			sort.Strings(assetKeys)
			for _, k := range assetKeys {
				writeLP(&buf, []byte(k))
				var qty [8]byte
				binary.BigEndian.PutUint64(qty[:], assetsByKey[k].Quantity)
				buf.Write(qty[:])
			}

			metaKeys := make([]string, 0, len(acc.Metadata))
			for k := range acc.Metadata {
				metaKeys = append(metaKeys, k)
			}
			sort.Strings(metaKeys)
			for _, k := range metaKeys {
				writeLP(&buf, []byte(k))
				writeLP(&buf, []byte(acc.Metadata[k]))
			}
		}

		defKeys := make([]string, 0, len(d.AssetDefinitions))
		for id := range d.AssetDefinitions {
			defKeys = append(defKeys, id.String())
		}
		sort.Strings(defKeys)
		for _, k := range defKeys {
			writeLP(&buf, []byte(k))
		}
	}

	return merkleHash(buf.Bytes())
}

func writeLP(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}
