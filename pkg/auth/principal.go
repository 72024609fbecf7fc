package auth

import "time"

// RoleAdmin is granted to the first user provisioned in the manager tenant
const RoleAdmin = "admin"

// Principal is the authenticated identity behind a request, independent of
// the tenant it is operating against.
type Principal struct {
	// UserID is the manager tenant user id, zero until provisioned.
	UserID   int64  `json:"user_id,omitempty"`
	UID      string `json:"uid"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
	// Role is the manager tenant role, set by provisioning only.
	Role string `json:"role,omitempty"`
	// Roles are the groups asserted by the identity provider. They never
	// confer manager tenant privileges.
	Roles  []string               `json:"roles,omitempty"`
	Claims map[string]interface{} `json:"claims,omitempty"`
}

// IsAdmin reports whether the manager tenant made the principal admin
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Identity is a verified bearer token together with the principal it names
type Identity struct {
	Principal Principal
	Issuer    string
	Audience  []string
	Subject   string
	IssuedAt  time.Time
	Expiry    time.Time
}
