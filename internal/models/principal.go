package models

// Role is the caller's role as stored on the users table
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleVendor   Role = "VENDOR"
	RoleAgent    Role = "AGENT"
	RoleCustomer Role = "CUSTOMER"
)

// Principal is the authenticated caller, resolved per request from the users
// table and the matching vendor, agent or customer row.
type Principal struct {
	UserID     string  `db:"user_id" json:"user_id"`
	Role       Role    `db:"role" json:"role"`
	VendorID   *string `db:"vendor_id" json:"vendor_id,omitempty"`
	AgentID    *string `db:"agent_id" json:"agent_id,omitempty"`
	CustomerID *string `db:"customer_id" json:"customer_id,omitempty"`
}

// HasRole reports whether the principal holds one of roles
func (p *Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
