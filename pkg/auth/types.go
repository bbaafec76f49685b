package auth

// Roles recognised by the REM API.
const (
	RoleAdmin          = "admin"
	RoleCustodianAdmin = "custodian-admin"
	RoleExecutor       = "executor"
)

// Principal is the interface for any entity making a request.
type Principal interface {
	GetID() string
	GetRoles() []string
	HasRole(role string) bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID    string
	Roles []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

// HasRole reports whether the principal carries role. Admins carry every role.
func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}
