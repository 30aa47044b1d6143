package identity

import (
	"crypto/rand"
	"encoding/hex"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// MakeRandHexString returns n bytes of cryptographically random data encoded
// as hex, 2n characters long.
func MakeRandHexString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random bytes")
	}
	return hex.EncodeToString(buf), nil
}

// NewSecurityStamp mints the opaque version marker stored on a user and
// embedded in issued credentials. Rotating it invalidates everything issued
// under the previous value.
func NewSecurityStamp() string {
	stamp, err := MakeRandHexString(16)
	if err != nil {
		return uuid.NewString()
	}
	return stamp
}

// NewSessionReference returns an opaque session id with 256 bits of
// entropy. Unguessability is the only thing protecting server-side
// sessions from forgery.
func NewSessionReference() (string, error) {
	return MakeRandHexString(32)
}

// NewResetToken returns the opaque token mailed out for password recovery.
func NewResetToken() (string, error) {
	return MakeRandHexString(24)
}
