// Package principal models the authenticated caller and what it may do.
//
// Authorization decisions live here as capability methods rather than
// role string comparisons scattered through handlers. A handler asks
// "can this principal moderate" and the answer stays in one place when
// roles evolve.
package principal

// Role is the coarse access level attached to an API key.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Principal identifies the authenticated caller of an operation.
// The zero value is an anonymous caller with no capabilities.
type Principal struct {
	UserID string
	Role   Role
}

// System is the in-process caller used for internal transitions that no
// external principal drives.
var System = Principal{UserID: "system", Role: RoleAdmin}

// Anonymous reports whether the principal is unauthenticated.
func (p Principal) Anonymous() bool { return p.UserID == "" }

// Owns reports whether the principal is the given resource owner.
func (p Principal) Owns(ownerID string) bool {
	return !p.Anonymous() && p.UserID == ownerID
}

// CanModerate reports whether the principal may approve or reject
// listings awaiting review.
func (p Principal) CanModerate() bool { return p.Role == RoleAdmin }

// CanSettleEscrow reports whether the principal may release or refund
// held funds.
func (p Principal) CanSettleEscrow() bool { return p.Role == RoleAdmin }
