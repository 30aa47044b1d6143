package identity_test

import (
	"testing"

	"github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
			wantErr:  false,
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  true, // bcrypt can hash empty strings!
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := identity.HashPassword(tt.password)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.NotEmpty(t, hash)

			err = identity.ComparePasswordAndHash(tt.password, hash)
			assert.NoError(t, err)
		})
	}
}

func TestComparePasswordAndHash(t *testing.T) {
	// Create a known password hash
	password := "testPassword123!"
	hash, err := identity.HashPassword(password)
	assert.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		wantErr  bool
	}{
		{
			name:     "Matching password",
			password: password,
			hash:     hash,
			wantErr:  false,
		},
		{
			name:     "Wrong password",
			password: "wrongPassword",
			hash:     hash,
			wantErr:  true,
		},
		{
			name:     "Invalid hash",
			password: password,
			hash:     "invalidhash",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := identity.ComparePasswordAndHash(tt.password, tt.hash)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.hash == hash {
					assert.Equal(t, identity.ErrInvalidCredentials, err)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewBcryptHasherCost(t *testing.T) {
	// MinCost keeps the test fast; the clamp makes absurd inputs safe.
	hasher := identity.NewBcryptHasher(4)

	hash, err := hasher.HashPassword("secret")
	assert.NoError(t, err)
	assert.NoError(t, hasher.ComparePasswordAndHash("secret", hash))

	assert.NotPanics(t, func() {
		identity.NewBcryptHasher(-10)
		identity.NewBcryptHasher(1000)
	})
}

func TestNeedsRehash(t *testing.T) {
	low := identity.NewBcryptHasher(4)
	high := identity.NewBcryptHasher(6)

	hash, err := low.HashPassword("secret")
	assert.NoError(t, err)

	assert.False(t, low.NeedsRehash(hash), "hash at configured cost should not need rehash")
	assert.True(t, high.NeedsRehash(hash), "hash below configured cost should need rehash")
	assert.True(t, high.NeedsRehash("not-a-bcrypt-hash"), "garbage hashes should report rehash")
}

func TestDummyCompare(t *testing.T) {
	hasher := identity.NewBcryptHasher(4)

	// Must never panic or error; it exists to burn time on unknown users.
	assert.NotPanics(t, func() {
		hasher.DummyCompare("anything")
		hasher.DummyCompare("")
	})
}

func TestRandomPasswordHash(t *testing.T) {
	hash1 := identity.RandomPasswordHash()
	hash2 := identity.RandomPasswordHash()

	assert.NotEmpty(t, hash1)
	assert.NotEmpty(t, hash2)
	assert.NotEqual(t, hash1, hash2)
}
