package identity

import (
	"errors"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes passwords with bcrypt. The salt is generated per call
// and embedded in the output, so nothing but the hash needs storing.
type BcryptHasher struct {
	cost      int
	dummyOnce sync.Once
	dummyHash string
}

var _ PasswordAuthenticator = (*BcryptHasher)(nil)

// NewBcryptHasher creates a hasher with the given work factor. A cost of
// zero selects the package default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = passwordHashCost()
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// HashPassword will generate a password hash
func (h *BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(hash), nil
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func (h *BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return goerrors.Wrap(err, goerrors.CategoryAuth, "password comparison failed")
	}
	return nil
}

// NeedsRehash reports whether the stored hash was generated with a lower
// cost than the hasher is configured for.
func (h *BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// DummyCompare burns one bcrypt comparison against a throwaway hash. Login
// paths call it for unknown identifiers so lookups and bad passwords take
// comparable time.
func (h *BcryptHasher) DummyCompare(password string) {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), h.cost)
		if err == nil {
			h.dummyHash = string(hash)
		}
	})

	if h.dummyHash == "" {
		return
	}

	_ = bcrypt.CompareHashAndPassword([]byte(h.dummyHash), []byte(password))
}

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("value must not be an empty string", goerrors.CategoryValidation).
	WithTextCode("EMPTY_STRING").
	WithCode(goerrors.CodeBadRequest)

var defaultHasher = NewBcryptHasher(0)

// HashPassword will generate a password hash using the default cost
func HashPassword(password string) (string, error) {
	return defaultHasher.HashPassword(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	return defaultHasher.ComparePasswordAndHash(password, hash)
}

// RandomPasswordHash is a temporary password
func RandomPasswordHash() string {
	pwd := uuid.New()

	h, err := HashPassword(pwd.String())
	if err != nil {
		return RandomPasswordHash()
	}

	return h
}
