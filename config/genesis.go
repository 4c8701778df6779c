package config

import (
	"fmt"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/wsv"
)

// BuildGenesisBlock constructs and signs the height-1 block carrying the
// chain's initial instructions, grounded on config/genesis.go's
// CreateGenesisBlock but generalized from a single balance-alloc map to
// an arbitrary instruction payload, since the genesis peer "loads a
// genesis block from external input" per spec.md §6 rather than deriving
// one from a fixed alloc schema.
func BuildGenesisBlock(cfg *Config, genesisTxs []wsv.Transaction) (block.PendingBlock, error) {
	topo, err := cfg.Topology()
	if err != nil {
		return block.PendingBlock{}, fmt.Errorf("config: genesis topology: %w", err)
	}
	priv, err := cfg.PrivateKey()
	if err != nil {
		return block.PendingBlock{}, fmt.Errorf("config: genesis key: %w", err)
	}
	self, err := cfg.Peer()
	if err != nil {
		return block.PendingBlock{}, fmt.Errorf("config: genesis peer: %w", err)
	}

	header := block.NewHeader(1, [32]byte{}, 0, topo, genesisTxs, nil)
	pb := block.PendingBlock{Header: header, Transactions: genesisTxs}
	pb.AddSignature(block.Sign(header, self, priv))
	return pb, nil
}

// AcceptGenesis reports whether a received genesis block's signatures all
// come from this node's configured trusted-peer set, per spec.md §6: a
// peer accepts a genesis block "iff the signatures match their
// configured trusted-peer set."
func AcceptGenesis(cfg *Config, genesis block.PendingBlock) error {
	if genesis.Header.Height != 1 {
		return fmt.Errorf("config: genesis block must be height 1, got %d", genesis.Header.Height)
	}
	if len(genesis.Signatures) == 0 {
		return fmt.Errorf("config: genesis block carries no signatures")
	}
	if err := genesis.VerifySignatures(); err != nil {
		return fmt.Errorf("config: genesis signatures: %w", err)
	}

	trusted := make(map[string]bool, len(cfg.TrustedPeers))
	for _, tp := range cfg.TrustedPeers {
		p, err := tp.Peer()
		if err != nil {
			return fmt.Errorf("config: trusted peer %q: %w", tp.Address, err)
		}
		trusted[p.ID()] = true
	}
	for _, sig := range genesis.Signatures {
		if !trusted[sig.Signer.ID()] {
			return fmt.Errorf("config: genesis signature from untrusted peer %s", sig.Signer)
		}
	}
	return nil
}
