package sumeragi

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the main loop encounters so callers can decide
// whether to log-and-continue, emit a view-change proof, or abort the node.
type Kind int

const (
	// KindTransient covers out-of-order or duplicate network input: stale
	// proofs, a proposal for a view already past, a signature from a peer
	// no longer in the topology. The round continues unaffected.
	KindTransient Kind = iota
	// KindTxRejected covers a transaction the validator or instruction
	// executor refused; the round continues with the remaining queue.
	KindTxRejected
	// KindBlockInvalid covers a proposal that fails linkage, signature, or
	// merkle-root verification. The peer withholds its signature and the
	// round proceeds toward a view-change timeout.
	KindBlockInvalid
	// KindFatal covers a violated internal invariant: height went
	// backwards, the block log rejected a write, or a replayed block's
	// hash does not match what was stored. The node cannot safely continue
	// past this and must stop.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "Transient"
	case KindTxRejected:
		return "TxRejected"
	case KindBlockInvalid:
		return "BlockInvalid"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// kindedError pairs an error with its Kind so the main loop can dispatch on
// it with a single type switch instead of re-deriving severity from message
// text at every call site.
type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindedError) Unwrap() error { return e.err }

func transient(format string, args ...any) error {
	return &kindedError{kind: KindTransient, err: fmt.Errorf(format, args...)}
}

func blockInvalid(format string, args ...any) error {
	return &kindedError{kind: KindBlockInvalid, err: fmt.Errorf(format, args...)}
}

// fatalf wraps err with a recorded stack trace via github.com/pkg/errors,
// since a KindFatal error is the one case in this module where the log line
// that reports it is also the last diagnostic a operator gets before the
// process exits — unlike every other error path here, there is no later
// retry or caller that might re-wrap it with more context.
func fatalf(format string, args ...any) error {
	return &kindedError{kind: KindFatal, err: errors.WithStack(fmt.Errorf(format, args...))}
}

// classify reports the Kind of err, defaulting to KindFatal for an error
// this package did not itself construct — an un-kinded error reaching the
// main loop means a collaborator failed in a way nothing anticipated, which
// is exactly the posture KindFatal is for.
func classify(err error) Kind {
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindFatal
}
