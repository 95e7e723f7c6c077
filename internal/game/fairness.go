package game

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// FairnessPair is the commitment published before a round closes.
// Digest is shown while stakes are open; Plain is revealed after settlement.
type FairnessPair struct {
	Plain  string
	Digest string
}

// NewFairnessPair commits to an outcome with a random secret.
func NewFairnessPair(tag string, o Outcome) FairnessPair {
	plain := fmt.Sprintf("%s|%s|%s", tag, o.String(), uuid.NewString())
	return FairnessPair{Plain: plain, Digest: Digest(plain)}
}

// Digest returns the hex SHA-256 of plain.
func Digest(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// VerifyFairness reports whether plain matches the published digest.
func VerifyFairness(plain, digest string) bool {
	return Digest(plain) == digest
}

// RandIntn returns a uniform integer in [0, n) from crypto/rand.
func RandIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to draw random number: %w", err)
	}
	return int(v.Int64()), nil
}
