// Package config loads and validates node configuration: this peer's
// identity, the trusted peer set, round timing, and TLS, mirroring
// config/config.go's JSON-file-plus-Validate shape.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/txvalidator"
	"github.com/tolelom/sumeragi/wsv"
)

// TLSConfig holds paths to the PEM files needed for mTLS. LoadTLSConfig
// reads and validates them; the netsvc TCP transport does not use the
// result, so peer-to-peer traffic is plain TCP whether or not they are set.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// TrustedPeer identifies a peer in the bootstrap set by address and
// hex-encoded ed25519 public key.
type TrustedPeer struct {
	Address      string `json:"address"`
	PublicKeyHex string `json:"public_key"`
}

// Peer resolves a TrustedPeer entry into a topology.Peer.
func (t TrustedPeer) Peer() (topology.Peer, error) {
	return topology.NewPeer(t.Address, t.PublicKeyHex)
}

// GenesisAuthority registers an account as a transaction signer outside of
// any instruction payload: Register<Account> has no key-material field of
// its own, so the authorities allowed to sign on a genesis-era account's
// behalf must be provisioned directly into the transaction validator at
// startup, the same way the trusted peer set is provisioned into topology.
type GenesisAuthority struct {
	Account      string `json:"account"`
	PublicKeyHex string `json:"public_key"`
}

// Config holds all node configuration, per spec.md §6's enumerated
// options.
type Config struct {
	DataDir    string `json:"data_dir"`
	ListenAddr string `json:"listen_addr"`

	// PeerID is this node's own (address, public_key) identity.
	PeerID TrustedPeer `json:"peer_id"`
	// KeyPairHex is this node's hex-encoded ed25519 private key.
	KeyPairHex string `json:"key_pair"`

	BlockTimeMS            int64         `json:"block_time_ms"`
	CommitTimeLimitMS      int64         `json:"commit_time_limit_ms"`
	MaxTransactionsInBlock int           `json:"max_transactions_in_block"`
	TrustedPeers           []TrustedPeer `json:"trusted_peers"`
	MaxFaultyPeers         int           `json:"max_faulty_peers"`
	DebugForceSoftFork     bool          `json:"debug_force_soft_fork,omitempty"`

	GenesisPath        string             `json:"genesis_path,omitempty"`
	GenesisAuthorities []GenesisAuthority `json:"genesis_authorities,omitempty"`
	TLS                *TLSConfig         `json:"tls,omitempty"`
}

// DefaultConfig returns a single-node development configuration with
// spec.md §6's default round timings.
func DefaultConfig() *Config {
	return &Config{
		DataDir:                "./data",
		ListenAddr:             "127.0.0.1:30303",
		BlockTimeMS:            1000,
		CommitTimeLimitMS:      4000,
		MaxTransactionsInBlock: 500,
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if _, err := c.Peer(); err != nil {
		return fmt.Errorf("peer_id: %w", err)
	}
	if _, err := c.PrivateKey(); err != nil {
		return fmt.Errorf("key_pair: %w", err)
	}
	if c.BlockTimeMS <= 0 {
		return fmt.Errorf("block_time_ms must be positive, got %d", c.BlockTimeMS)
	}
	if c.CommitTimeLimitMS <= c.BlockTimeMS {
		return fmt.Errorf("commit_time_limit_ms (%d) must exceed block_time_ms (%d)", c.CommitTimeLimitMS, c.BlockTimeMS)
	}
	if c.MaxTransactionsInBlock <= 0 {
		return fmt.Errorf("max_transactions_in_block must be positive, got %d", c.MaxTransactionsInBlock)
	}
	minPeers := topology.MinPeers(c.MaxFaultyPeers)
	if len(c.TrustedPeers) < minPeers {
		return fmt.Errorf("trusted_peers must have at least %d entries for max_faulty_peers=%d, got %d",
			minPeers, c.MaxFaultyPeers, len(c.TrustedPeers))
	}
	for i, p := range c.TrustedPeers {
		if _, err := p.Peer(); err != nil {
			return fmt.Errorf("trusted_peers[%d]: %w", i, err)
		}
	}
	for i, a := range c.GenesisAuthorities {
		if _, err := wsv.ParseAccountID(a.Account); err != nil {
			return fmt.Errorf("genesis_authorities[%d]: %w", i, err)
		}
		if _, err := crypto.PubKeyFromHex(a.PublicKeyHex); err != nil {
			return fmt.Errorf("genesis_authorities[%d]: %w", i, err)
		}
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Peer resolves this node's own identity.
func (c *Config) Peer() (topology.Peer, error) {
	return c.PeerID.Peer()
}

// PrivateKey decodes this node's signing key.
func (c *Config) PrivateKey() (crypto.PrivateKey, error) {
	return crypto.PrivKeyFromHex(c.KeyPairHex)
}

// Topology builds the initial topology from the trusted peer set.
func (c *Config) Topology() (topology.Topology, error) {
	peers := make([]topology.Peer, 0, len(c.TrustedPeers))
	for _, tp := range c.TrustedPeers {
		p, err := tp.Peer()
		if err != nil {
			return topology.Topology{}, fmt.Errorf("config: trusted peer %q: %w", tp.Address, err)
		}
		peers = append(peers, p)
	}
	return topology.New(peers, c.MaxFaultyPeers)
}

// RegisterAuthorities provisions every configured GenesisAuthority's signing
// key into v, so transactions from those accounts pass validation before any
// Register<Account> instruction for them has even committed.
func (c *Config) RegisterAuthorities(v *txvalidator.Validator) error {
	for _, a := range c.GenesisAuthorities {
		account, err := wsv.ParseAccountID(a.Account)
		if err != nil {
			return fmt.Errorf("config: genesis authority %q: %w", a.Account, err)
		}
		pub, err := crypto.PubKeyFromHex(a.PublicKeyHex)
		if err != nil {
			return fmt.Errorf("config: genesis authority %q: %w", a.Account, err)
		}
		v.RegisterKey(account, pub)
	}
	return nil
}
