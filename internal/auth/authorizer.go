package auth

// Permission strings carried in token claims.
const (
	PermissionAdmin          = "admin"
	PermissionRequestGrants  = "request_grants"
	PermissionApproveGrants  = "approve_grants"
	PermissionRevokeGrants   = "revoke_grants"
	PermissionViewAllGrants  = "view_all_grants"
	PermissionManagePolicies = "manage_policies"
)

type PermissionChecker interface {
	CanRequestGrants(actor *Actor) bool
	CanApproveGrants(actor *Actor) bool
	CanRevokeGrants(actor *Actor) bool
	CanViewAllGrants(actor *Actor) bool
	CanManagePolicies(actor *Actor) bool
	CanAccessClient(actor *Actor, clientID string) bool
}

type DefaultPermissionChecker struct{}

func NewPermissionChecker() PermissionChecker {
	return &DefaultPermissionChecker{}
}

func (c *DefaultPermissionChecker) CanRequestGrants(actor *Actor) bool {
	return c.hasAnyPermission(actor, []string{PermissionRequestGrants, PermissionApproveGrants, PermissionAdmin})
}

func (c *DefaultPermissionChecker) CanApproveGrants(actor *Actor) bool {
	return c.hasAnyPermission(actor, []string{PermissionApproveGrants, PermissionAdmin})
}

func (c *DefaultPermissionChecker) CanRevokeGrants(actor *Actor) bool {
	return c.hasAnyPermission(actor, []string{PermissionRevokeGrants, PermissionApproveGrants, PermissionAdmin})
}

func (c *DefaultPermissionChecker) CanViewAllGrants(actor *Actor) bool {
	return c.hasAnyPermission(actor, []string{PermissionViewAllGrants, PermissionApproveGrants, PermissionAdmin})
}

func (c *DefaultPermissionChecker) CanManagePolicies(actor *Actor) bool {
	return c.hasAnyPermission(actor, []string{PermissionManagePolicies, PermissionAdmin})
}

// CanAccessClient enforces client scoping. Actors with no client list are
// unrestricted; otherwise the grant's client must appear in the list.
func (c *DefaultPermissionChecker) CanAccessClient(actor *Actor, clientID string) bool {
	if actor == nil {
		return false
	}
	if len(actor.ClientIDs) == 0 {
		return true
	}
	for _, id := range actor.ClientIDs {
		if id == clientID {
			return true
		}
	}
	return false
}

func (c *DefaultPermissionChecker) hasAnyPermission(actor *Actor, required []string) bool {
	if actor == nil {
		return false
	}
	for _, have := range actor.Permissions {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}
