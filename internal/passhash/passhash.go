// Package passhash wraps bcrypt so the rest of LockDrop never handles the
// primitive directly.
package passhash

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
)

// MaxSecretBytes is bcrypt's input limit. Longer secrets are rejected upstream
// because bcrypt would otherwise ignore the tail.
const MaxSecretBytes = 72

// DefaultCost is used when the configured cost is out of range.
const DefaultCost = bcrypt.DefaultCost

// Hasher hashes and verifies upload passwords at a fixed cost.
type Hasher struct {
	cost int
}

// New returns a Hasher. Costs outside bcrypt's range fall back to the default.
func New(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns a salted bcrypt hash of secret.
func (h *Hasher) Hash(secret string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrHashing, err)
	}
	return string(out), nil
}

// Verify reports whether candidate matches hash. A malformed hash simply
// does not match.
func (h *Hasher) Verify(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
