package hashutil

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Prefix names the algorithm in every checksum string.
const Prefix = "blake3:"

// Checksum returns the BLAKE3-256 checksum of data as "blake3:<hex>".
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:])
}
