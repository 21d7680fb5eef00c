package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Fingerprint derives a stable, non-reversible identifier for an
// unauthenticated caller from their network origin and a deployment-wide
// salt. The same origin always yields the same fingerprint, which is how an
// anonymous asker is matched back to their own question threads.
func Fingerprint(origin, salt string) (string, error) {
	if origin == "" || salt == "" {
		return "", errors.New("origin and salt are required for fingerprinting")
	}
	sum := sha256.Sum256([]byte(origin + salt))
	return hex.EncodeToString(sum[:]), nil
}
