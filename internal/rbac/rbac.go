// Package rbac maps workspace roles to the actions they may perform.
package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
	ActionAdmin  Action = "admin"
)

var rank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

var required = map[Action]Role{
	ActionRead:   RoleViewer,
	ActionWrite:  RoleEditor,
	ActionManage: RoleAdmin,
	ActionAdmin:  RoleOwner,
}

// Can reports whether role is allowed to perform action. Unknown roles and
// actions are denied.
func Can(role Role, action Action) bool {
	need, ok := required[action]
	if !ok {
		return false
	}
	return rank[role] >= rank[need]
}

// Outranks reports whether a may assign or revoke role b.
func Outranks(a, b Role) bool {
	if a == RoleOwner {
		return true
	}
	return rank[a] > rank[b]
}

func Valid(role string) bool {
	_, ok := rank[Role(role)]
	return ok
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleViewer
}
