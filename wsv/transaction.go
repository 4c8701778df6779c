package wsv

import (
	"fmt"
)

// Transaction is a signed batch of instructions submitted by a single
// authority account. The consensus core treats it as opaque payload aside
// from its signature and instruction list. It carries no replay nonce, and
// its instructions execute without a per-instruction permission check.
type Transaction struct {
	Authority AccountID
	Payload   []Instruction
	CreatedAt int64
	Signature string // hex-encoded, over Hash()
}

// Hash returns a stable fingerprint of the transaction's content, used both
// as its identity (the queue's key and sumeragi's committed-transaction
// history) and as the leaf value hashed into the block's transaction merkle
// root.
func (tx Transaction) Hash() [32]byte {
	return merkleHash(tx.signingPayload())
}

func (tx Transaction) signingPayload() []byte {
	buf := []byte(fmt.Sprintf("tx|%s|%d", tx.Authority, tx.CreatedAt))
	for _, instr := range tx.Payload {
		buf = append(buf, '|')
		buf = append(buf, instr.signingPayload()...)
	}
	return buf
}

// RejectionReason classifies why a transaction did not mutate WSV state.
type RejectionReason int

const (
	RejectionInvalidSignature RejectionReason = iota
	RejectionValidatorRejected
	RejectionInstructionFailed
)

func (r RejectionReason) String() string {
	switch r {
	case RejectionInvalidSignature:
		return "InvalidSignature"
	case RejectionValidatorRejected:
		return "ValidatorRejected"
	case RejectionInstructionFailed:
		return "InstructionFailed"
	default:
		return "Unknown"
	}
}

// RejectedTransaction pairs a transaction with why it did not apply.
type RejectedTransaction struct {
	Transaction Transaction
	Reason      RejectionReason
	Detail      string
}

// TransactionValidator is the external collaborator WSV.Apply calls before
// executing a transaction's instructions. Implementations check signature
// validity and any shape constraints the core itself does not enforce
// (spec'd out-of-scope so callers can swap validation policy without
// touching WSV's apply loop).
type TransactionValidator interface {
	Validate(tx Transaction, w *WorldStateView) error
}
