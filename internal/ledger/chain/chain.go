// Package chain computes and verifies the hash linkage of the fiscal
// ledger. It never persists anything.
package chain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/smallbiznis/fiscalia/internal/ledger/canonical"
	"github.com/smallbiznis/fiscalia/internal/ledger/domain"
)

// seedLabel anchors the first link of every chain. The seed is a fixed
// constant, never derived from issuer data, so the genesis previous_hash
// is unambiguous across organizations.
const seedLabel = "fiscalia.ledger.chain." + canonical.FormatVersion

// Seed is the previous_hash of the first entry in any chain.
var Seed = func() string {
	sum := sha256.Sum256([]byte(seedLabel))
	return hex.EncodeToString(sum[:])
}()

// Compute returns hex(SHA-256(previousHash || canonicalBytes)).
func Compute(previousHash string, canonicalBytes []byte) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonicalBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryHash recomputes an entry's chained hash from its stored
// previous_hash and core fields.
func EntryHash(e domain.LedgerEntry) string {
	return Compute(e.PreviousHash, canonical.Encode(e))
}

// Verify walks a full chain ordered by number, starting at the genesis
// entry. It returns false plus the index of the first divergence when
// any link fails to recompute.
func Verify(entries []domain.LedgerEntry) (bool, int) {
	prev := Seed
	for i, e := range entries {
		if e.PreviousHash != prev {
			return false, i
		}
		if EntryHash(e) != e.ChainedHash {
			return false, i
		}
		prev = e.ChainedHash
	}
	return true, -1
}

// VerifyWindow checks an export window that may start mid-chain: every
// entry's own hash is recomputed, internal links are checked, and the
// seed is only asserted when the window begins at number 1.
func VerifyWindow(entries []domain.LedgerEntry) (bool, int) {
	for i, e := range entries {
		if i == 0 {
			if e.Number == 1 && e.PreviousHash != Seed {
				return false, 0
			}
		} else if e.PreviousHash != entries[i-1].ChainedHash {
			return false, i
		}
		if EntryHash(e) != e.ChainedHash {
			return false, i
		}
	}
	return true, -1
}
