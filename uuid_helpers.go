package identity

import "github.com/google/uuid"

// HasSubjectUUID reports whether Principal.UserUUID will succeed.
func HasSubjectUUID(principal *Principal) bool {
	if principal == nil {
		return false
	}
	_, err := principal.UserUUID()
	return err == nil
}

// ParseSubjectID parses a credential subject into a user id. External
// identity providers may issue non-UUID subjects; those fail here and should
// be resolved through provider-specific lookup instead.
func ParseSubjectID(subject string) (uuid.UUID, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, ErrTokenMalformed
	}
	return id, nil
}
