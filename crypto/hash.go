package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string. Used for
// peer identity (topology.Peer.ID), where the consensus core just needs a
// stable fingerprint and no particular speed profile matters.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// MerkleHash returns the BLAKE2b-256 digest of data. Transaction merkle
// roots and WSV state roots are recomputed on every block and every
// ComputeRoot call respectively, so this path is hashed far more often per
// block than any single identity hash; BLAKE2b's throughput advantage over
// SHA-256 on general-purpose cores is the reason to reach for it here.
func MerkleHash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// MerkleHashHex is MerkleHash hex-encoded. Nothing in this module calls it;
// the wire codec carries roots as fixed-width binary.
func MerkleHashHex(data []byte) string {
	h := MerkleHash(data)
	return hex.EncodeToString(h[:])
}
