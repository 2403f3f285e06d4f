package appointment

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	referenceDigits      = 8
	maxReferenceAttempts = 5
)

var referenceSpace = big.NewInt(100_000_000) // 10^referenceDigits

// ReferenceGenerator returns a new human readable booking reference.
type ReferenceGenerator func() (string, error)

// RandomReferences yields PREFIX-NNNNNNNN with a uniformly random suffix.
// Uniqueness is left to the reference index; callers retry on collision.
func RandomReferences(prefix string) ReferenceGenerator {
	return func() (string, error) {
		n, err := rand.Int(rand.Reader, referenceSpace)
		if err != nil {
			return "", fmt.Errorf("generate reference: %w", err)
		}
		return fmt.Sprintf("%s-%0*d", prefix, referenceDigits, n.Int64()), nil
	}
}
