package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SHA256Hex computes the SHA-256 digest of data, hex encoded.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Matches reports whether data's SHA-256 digest equals hexDigest.
// Comparison is constant time even though neither side is secret here;
// digest comparisons go through this helper as a matter of policy.
func SHA256Matches(data []byte, hexDigest string) bool {
	return subtle.ConstantTimeCompare([]byte(SHA256Hex(data)), []byte(hexDigest)) == 1
}
