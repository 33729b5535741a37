// Package auth provides the role permission table and the permission evaluator.
package auth

// Role represents a user role in the system.
type Role string

const (
	RoleSuperAdmin Role = "super_admin" // System-wide operator
	RoleAdmin      Role = "admin"       // Organization administrator
	RoleLawyer     Role = "lawyer"      // Answers consultation cases
	RoleMember     Role = "member"      // Reports incidents, applies to organizations
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleLawyer, RoleMember:
		return true
	}
	return false
}

// IsPrivileged reports whether the role must carry an authorization record.
func (r Role) IsPrivileged() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// Resource names something a permission applies to.
type Resource string

const (
	ResourceCase                Resource = "case"
	ResourceCaseClaim           Resource = "case_claim"
	ResourceCaseResponse        Resource = "case_response"
	ResourceCaseReply           Resource = "case_reply"
	ResourceMembership          Resource = "membership"
	ResourceOrganization        Resource = "organization"
	ResourceAuthorizationRecord Resource = "authorization_record"
	ResourceUser                Resource = "user"
)

// Resources lists every resource in a stable order.
var Resources = []Resource{
	ResourceCase, ResourceCaseClaim, ResourceCaseResponse, ResourceCaseReply,
	ResourceMembership, ResourceOrganization, ResourceAuthorizationRecord, ResourceUser,
}

// Action is an operation on a resource. ActionManage subsumes the others.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// Scope is the breadth of a grant.
type Scope string

const (
	ScopeOwn          Scope = "own"          // Actor owns the resource
	ScopeOrganization Scope = "organization" // Within an approved organization
	ScopeAll          Scope = "all"          // System-wide
)

// Permission represents a specific action on a resource within a scope.
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
	Scope    Scope    `json:"scope"`
}

// String renders the permission as resource:action:scope.
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action) + ":" + string(p.Scope)
}

// Table maps roles to their permissions.
type Table map[Role][]Permission

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for role, perms := range t {
		out[role] = append([]Permission(nil), perms...)
	}
	return out
}

func grant(resource Resource, action Action, scope Scope) Permission {
	return Permission{Resource: resource, Action: action, Scope: scope}
}

// DefaultTable returns a fresh copy of the built-in role permissions.
func DefaultTable() Table {
	superAdmin := make([]Permission, 0, len(Resources))
	for _, r := range Resources {
		superAdmin = append(superAdmin, grant(r, ActionManage, ScopeAll))
	}

	return Table{
		RoleSuperAdmin: superAdmin,
		RoleAdmin: {
			grant(ResourceCase, ActionRead, ScopeOrganization),
			grant(ResourceCase, ActionUpdate, ScopeOrganization),
			grant(ResourceCaseReply, ActionRead, ScopeOrganization),
			grant(ResourceMembership, ActionCreate, ScopeOwn),
			grant(ResourceMembership, ActionRead, ScopeOrganization),
			grant(ResourceMembership, ActionUpdate, ScopeOrganization),
			grant(ResourceOrganization, ActionRead, ScopeOrganization),
			grant(ResourceUser, ActionRead, ScopeOrganization),
			grant(ResourceAuthorizationRecord, ActionRead, ScopeOwn),
		},
		RoleLawyer: {
			grant(ResourceCase, ActionRead, ScopeAll),
			grant(ResourceCaseClaim, ActionCreate, ScopeAll),
			grant(ResourceCaseResponse, ActionCreate, ScopeOwn),
			grant(ResourceCaseReply, ActionCreate, ScopeOwn),
			grant(ResourceCaseReply, ActionRead, ScopeOwn),
			grant(ResourceMembership, ActionRead, ScopeOwn),
			grant(ResourceOrganization, ActionRead, ScopeAll),
			grant(ResourceUser, ActionRead, ScopeOwn),
		},
		RoleMember: {
			grant(ResourceCase, ActionCreate, ScopeOwn),
			grant(ResourceCase, ActionRead, ScopeOwn),
			grant(ResourceCase, ActionUpdate, ScopeOwn),
			grant(ResourceCaseReply, ActionCreate, ScopeOwn),
			grant(ResourceCaseReply, ActionRead, ScopeOwn),
			grant(ResourceMembership, ActionCreate, ScopeOwn),
			grant(ResourceMembership, ActionRead, ScopeOwn),
			grant(ResourceOrganization, ActionRead, ScopeAll),
			grant(ResourceUser, ActionRead, ScopeOwn),
			grant(ResourceUser, ActionUpdate, ScopeOwn),
		},
	}
}

// PermissionSet renders a role's grants as resource:action:scope strings.
func (t Table) PermissionSet(role Role) []string {
	perms := t[role]
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.String())
	}
	return out
}
