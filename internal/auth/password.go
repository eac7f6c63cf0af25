package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest secret bcrypt accepts.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for secrets over MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// PasswordHasher is the credential verifier: salted bcrypt with a tunable cost.
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("password is required")
	}
	if len(secret) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether secret matches storedHash. A nil or empty hash (unknown or
// credential-less account) never matches, but still costs one bcrypt comparison so
// response time does not reveal which accounts exist.
func (h *PasswordHasher) Verify(secret string, storedHash *string) bool {
	if storedHash == nil || *storedHash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummy(), []byte(secret))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*storedHash), []byte(secret)) == nil
}

func (h *PasswordHasher) dummy() []byte {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("store-backend-unknown-identity"), h.cost)
		if err == nil {
			h.dummyHash = hash
		}
	})
	return h.dummyHash
}
