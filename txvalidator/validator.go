// Package txvalidator provides the default wsv.TransactionValidator the
// consensus core runs before executing a transaction's instructions.
package txvalidator

import (
	"fmt"
	"sync"

	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/wsv"
)

// defaultMaxInstructionsPerTx bounds a single transaction's payload size,
// a shape check with no analogue in the teacher's nonce/fee bookkeeping
// (Iroha-style transactions carry no replay nonce).
const defaultMaxInstructionsPerTx = 64

// Validator is the default transaction validator: verify-before-execute,
// mirroring vm/executor.go's ExecuteTx prologue ("signature: %w" before any
// state mutation is attempted).
type Validator struct {
	mu                   sync.RWMutex
	keys                 map[wsv.AccountID]crypto.PublicKey
	maxInstructionsPerTx int
}

// New returns a Validator with no registered authorities. Callers populate
// it via RegisterKey; config.Config.RegisterAuthorities does so for the
// configured genesis authorities. Executing a Register<Account> instruction
// does not register a key.
func New() *Validator {
	return &Validator{
		keys:                 make(map[wsv.AccountID]crypto.PublicKey),
		maxInstructionsPerTx: defaultMaxInstructionsPerTx,
	}
}

// RegisterKey associates account with the public key whose signature
// authorizes transactions on its behalf.
func (v *Validator) RegisterKey(account wsv.AccountID, pub crypto.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[account] = pub
}

// Validate implements wsv.TransactionValidator.
func (v *Validator) Validate(tx wsv.Transaction, w *wsv.WorldStateView) error {
	if len(tx.Payload) == 0 {
		return fmt.Errorf("txvalidator: empty instruction payload")
	}
	if len(tx.Payload) > v.maxInstructionsPerTx {
		return fmt.Errorf("txvalidator: %d instructions exceeds limit %d", len(tx.Payload), v.maxInstructionsPerTx)
	}

	v.mu.RLock()
	pub, ok := v.keys[tx.Authority]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("txvalidator: unknown authority %s", tx.Authority)
	}

	hash := tx.Hash()
	if err := crypto.Verify(pub, hash[:], tx.Signature); err != nil {
		return fmt.Errorf("txvalidator: signature: %w", err)
	}
	return nil
}
