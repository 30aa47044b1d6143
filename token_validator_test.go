package identity_test

import (
	"errors"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validatorStub struct {
	calls  int
	claims identity.AuthClaims
	err    error
}

func (v *validatorStub) Validate(tokenString string) (identity.AuthClaims, error) {
	v.calls++
	return v.claims, v.err
}

func TestMultiTokenValidator_UsesFirstSuccess(t *testing.T) {
	claims := &identity.JWTClaims{}
	primary := &validatorStub{claims: claims}
	secondary := &validatorStub{claims: &identity.JWTClaims{}}

	validator := identity.NewMultiTokenValidator(primary, secondary)

	result, err := validator.Validate("token")
	require.NoError(t, err)
	assert.Same(t, claims, result)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)
}

func TestMultiTokenValidator_FallbacksOnMalformed(t *testing.T) {
	claims := &identity.JWTClaims{}
	primary := &validatorStub{err: errors.New("token is malformed")}
	secondary := &validatorStub{claims: claims}

	validator := identity.NewMultiTokenValidator(primary, secondary)

	result, err := validator.Validate("token")
	require.NoError(t, err)
	assert.Same(t, claims, result)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestMultiTokenValidator_ReturnsNonMalformedError(t *testing.T) {
	primary := &validatorStub{err: identity.ErrTokenExpired}
	secondary := &validatorStub{claims: &identity.JWTClaims{}}

	validator := identity.NewMultiTokenValidator(primary, secondary)

	result, err := validator.Validate("token")
	assert.Nil(t, result)
	assert.True(t, identity.IsTokenExpiredError(err))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)
}

func TestMultiTokenValidator_AllMalformed(t *testing.T) {
	primary := &validatorStub{err: errors.New("token is malformed")}
	secondary := &validatorStub{err: errors.New("missing or malformed JWT")}

	validator := identity.NewMultiTokenValidator(primary, secondary)

	result, err := validator.Validate("token")
	assert.Nil(t, result)
	assert.True(t, identity.IsMalformedError(err))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestMultiTokenValidator_EmptyValidators(t *testing.T) {
	validator := identity.NewMultiTokenValidator(nil, nil)

	result, err := validator.Validate("token")
	assert.Nil(t, result)
	assert.True(t, identity.IsMalformedError(err))
}

func TestTokenValidatorFunc(t *testing.T) {
	t.Run("delegates to the function", func(t *testing.T) {
		claims := &identity.JWTClaims{}
		validator := identity.TokenValidatorFunc(func(tokenString string) (identity.AuthClaims, error) {
			return claims, nil
		})

		result, err := validator.Validate("token")
		require.NoError(t, err)
		assert.Same(t, claims, result)
	})

	t.Run("nil function rejects everything", func(t *testing.T) {
		var validator identity.TokenValidatorFunc

		result, err := validator.Validate("token")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, identity.ErrUnableToDecodeClaims)
	})
}
