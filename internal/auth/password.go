package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Password is the single login password shared by every user. Only its
// bcrypt hash is kept in memory.
type Password struct {
	hash []byte
}

// NewPassword hashes secret with the given bcrypt cost (bcrypt.DefaultCost if 0).
func NewPassword(secret string, cost int) (*Password, error) {
	if secret == "" {
		return nil, errors.New("login password must not be empty")
	}
	if !hashable(secret) {
		return nil, errors.New("login password must be at most 72 bytes without NUL characters")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return nil, err
	}
	return &Password{hash: h}, nil
}

// Check reports whether password is the shared secret.
func (p *Password) Check(password string) bool {
	if !hashable(password) {
		return false
	}
	return bcrypt.CompareHashAndPassword(p.hash, []byte(password)) == nil
}

// hashable excludes what bcrypt would truncate: bytes past 72 and anything
// after a NUL.
func hashable(s string) bool {
	return len(s) <= maxPasswordLen && !strings.ContainsRune(s, 0)
}

const maxPasswordLen = 72
