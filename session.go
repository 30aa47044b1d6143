package identity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRecord is the server-side state behind an opaque session reference.
// The principal snapshot is frozen at issuance; the stamp is kept alongside
// it so lookups can reject records from a rotated credential generation.
type SessionRecord struct {
	Reference string         `json:"reference"`
	UserID    string         `json:"user_id"`
	Stamp     string         `json:"stamp,omitempty"`
	Principal *Principal     `json:"principal,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// GetUserUUID parses the record subject as a user id.
func (s *SessionRecord) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

// Expired reports whether the record is past its expiry at the given time.
func (s *SessionRecord) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RestorePrincipal returns the stored principal snapshot with the record's
// security stamp put back; the stamp is held outside the snapshot so it never
// serializes with principal JSON.
func (s *SessionRecord) RestorePrincipal() *Principal {
	if s.Principal == nil {
		return nil
	}
	principal := s.Principal.Clone()
	principal.SecurityStamp = s.Stamp
	return principal
}

func (s SessionRecord) String() string {
	return fmt.Sprintf(
		"ref=%s… user=%s iat=%s exp=%s",
		safeRefPrefix(s.Reference),
		s.UserID,
		s.IssuedAt.Format(time.RFC1123),
		s.ExpiresAt.Format(time.RFC1123),
	)
}

// safeRefPrefix keeps full session references out of logs.
func safeRefPrefix(ref string) string {
	if len(ref) <= 8 {
		return ref
	}
	return ref[:8]
}
