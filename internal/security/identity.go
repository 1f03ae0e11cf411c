package security

import "github.com/google/uuid"

// Identity is the authenticated caller: the tenant every query is scoped
// to, plus the optional user and role behind the request. Verifiers
// resolve raw token claims into this type so the transport layer never
// handles unparsed claim strings.
type Identity struct {
	TenantID uuid.UUID
	UserID   *uuid.UUID
	Role     string
}

func (i Identity) IsAdmin() bool { return i.Role == "admin" }
