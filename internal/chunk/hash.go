package chunk

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash returns the hex BLAKE3-256 digest of data.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
