package artifact

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const hashPrefix = "b2:"

// contentHash returns a versioned BLAKE2b-256 hex digest of data.
func contentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// verifyContentHash reports whether data matches a stored digest. An empty
// stored digest (legacy rows) always verifies.
func verifyContentHash(stored string, data []byte) bool {
	return stored == "" || stored == contentHash(data)
}
