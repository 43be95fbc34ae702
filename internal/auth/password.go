package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewhartstonge/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeArgon2id = "argon2id"
	SchemeBcrypt   = "bcrypt"
)

// ErrPasswordTooLong is returned when bcrypt is asked to hash more than 72 bytes.
var ErrPasswordTooLong = errors.New("password too long for hashing scheme")

// PasswordHasher hashes passwords one way and verifies them against stored digests.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher. A cost of zero uses bcrypt.DefaultCost.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (h *bcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

func (h *bcryptHasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

type argon2Hasher struct {
	cfg argon2.Config
}

// NewArgon2Hasher returns an argon2id hasher using the library defaults.
func NewArgon2Hasher() PasswordHasher {
	return &argon2Hasher{cfg: argon2.DefaultConfig()}
}

func (h *argon2Hasher) Hash(password string) (string, error) {
	encoded, err := h.cfg.HashEncoded([]byte(password))
	if err != nil {
		return "", fmt.Errorf("argon2 hash: %w", err)
	}
	return string(encoded), nil
}

func (h *argon2Hasher) Verify(password, digest string) bool {
	ok, err := argon2.VerifyEncoded([]byte(password), []byte(digest))
	return err == nil && ok
}

// schemeHasher hashes with one scheme and verifies digests of any supported
// scheme, picked by prefix.
type schemeHasher struct {
	primary PasswordHasher
	argon2  PasswordHasher
	bcrypt  PasswordHasher
}

// NewPasswordHasher returns a hasher that writes digests with the named scheme.
func NewPasswordHasher(scheme string) (PasswordHasher, error) {
	h := &schemeHasher{
		argon2: NewArgon2Hasher(),
		bcrypt: NewBcryptHasher(bcrypt.DefaultCost),
	}
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeArgon2id:
		h.primary = h.argon2
	case SchemeBcrypt:
		h.primary = h.bcrypt
	default:
		return nil, fmt.Errorf("unsupported password hash scheme %q", scheme)
	}
	return h, nil
}

func (h *schemeHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *schemeHasher) Verify(password, digest string) bool {
	switch {
	case strings.HasPrefix(digest, "$argon2"):
		return h.argon2.Verify(password, digest)
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return h.bcrypt.Verify(password, digest)
	default:
		return false
	}
}
