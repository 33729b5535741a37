package auth

// Evaluator decides permission checks against an injected role table.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	table Table
}

// NewEvaluator creates an evaluator over a private copy of table.
func NewEvaluator(table Table) *Evaluator {
	return &Evaluator{table: table.Clone()}
}

// HasPermission reports whether subject may perform action on resource.
// Grants for other resources, and actions not listed for the role, are
// always denied.
func (e *Evaluator) HasPermission(subject Subject, resource Resource, action Action, rc ResourceContext) bool {
	perms, ok := e.table[subject.Actor.Role]
	if !ok {
		return false
	}

	for _, p := range perms {
		if p.Resource != resource {
			continue
		}
		if p.Action != action && p.Action != ActionManage {
			continue
		}
		if e.scopeAllows(subject, p.Scope, rc) {
			return true
		}
	}
	return false
}

// CanRead is HasPermission for ActionRead.
func (e *Evaluator) CanRead(subject Subject, resource Resource, rc ResourceContext) bool {
	return e.HasPermission(subject, resource, ActionRead, rc)
}

// HasAnyRole checks if the actor has any of the specified roles.
func HasAnyRole(actor Actor, roles ...Role) bool {
	for _, r := range roles {
		if actor.Role == r {
			return true
		}
	}
	return false
}

func (e *Evaluator) scopeAllows(subject Subject, scope Scope, rc ResourceContext) bool {
	switch scope {
	case ScopeAll:
		return true
	case ScopeOrganization:
		// Resources without an organization are not organization scoped yet.
		if rc.OrganizationID == nil {
			return true
		}
		return subject.ActiveIn(*rc.OrganizationID)
	case ScopeOwn:
		return subject.Actor.ID.Matches(rc.OwnerID)
	default:
		return false
	}
}
