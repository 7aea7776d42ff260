// Package fingerprint computes the content address of an operation document.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Size is the length of a fingerprint in bytes.
const Size = sha256.Size

// ErrInvalidHash is returned by Parse for input that is not a hex encoded SHA-256 digest.
var ErrInvalidHash = errors.New("invalid operation hash")

// Hash is the SHA-256 digest of an operation document.
type Hash [Size]byte

// Of returns the fingerprint of the exact document text.
// No normalization is applied: clients hash the literal text they send,
// so registration and lookup must see the same bytes.
func Of(document string) Hash {
	return sha256.Sum256([]byte(document))
}

// Parse reads a 64 character hex encoded hash (case-insensitive).
func Parse(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(Size) {
		return h, ErrInvalidHash
	}
	if _, err := hex.Decode(h[:], []byte(strings.ToLower(s))); err != nil {
		return h, ErrInvalidHash
	}
	return h, nil
}

// String returns the lower-case hex representation.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
