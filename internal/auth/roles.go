// ABOUTME: Client roles and the fixed method access-control lists.
// ABOUTME: Viewers get a read-only allowlist, non-admins are barred from admin methods.

package auth

// Role is the authorization tier granted to an authenticated connection.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// DefaultRole is granted when a connect request names no role.
const DefaultRole = RoleOperator

// Valid reports whether the role is one of the three known tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleOperator, RoleAdmin:
		return true
	default:
		return false
	}
}

// readOnlyMethods is the fixed set viewers may call.
var readOnlyMethods = map[string]struct{}{
	"health":           {},
	"me":               {},
	"channels.list":    {},
	"channels.status":  {},
	"sessions.list":    {},
	"sessions.history": {},
}

// adminOnlyMethods is the fixed set restricted to admins.
var adminOnlyMethods = map[string]struct{}{
	"channels.stop": {},
}

// CanCall reports whether the role may invoke the method.
// The health method is always permitted regardless of role.
func CanCall(role Role, method string) bool {
	if method == "health" {
		return true
	}
	switch role {
	case RoleAdmin:
		return true
	case RoleOperator:
		_, adminOnly := adminOnlyMethods[method]
		return !adminOnly
	case RoleViewer:
		_, readOnly := readOnlyMethods[method]
		return readOnly
	default:
		return false
	}
}
