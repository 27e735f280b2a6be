package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "EscrowLedger:genesis:v1"

// StateHasher chains state digests: state_hash[N] = SHA-256(prev_hash || sequence || digest)
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates the next link and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hash := ChainHash(h.prevHash, sequence, stateDigest)
	h.prevHash = hash
	return hash
}

// ChainHash is the pure link function, exposed for offline verification.
func ChainHash(prev [32]byte, sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resumes the chain from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
