package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Roles, from least to most privileged. Each inherits the one before it.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Actions on the vouchers resource.
const (
	ActionRead   = "read"   // listings, stats, export, print
	ActionWrite  = "write"  // generate, lifecycle operations, expiry changes
	ActionDelete = "delete" // permanent removal
	ActionManage = "manage" // demo scenarios
)

const resourceVouchers = "vouchers"

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// Authorizer decides whether a role may perform an action.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewAuthorizer builds the role hierarchy viewer < operator < admin.
func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}

	policies := [][]string{
		{RoleViewer, resourceVouchers, ActionRead},
		{RoleOperator, resourceVouchers, ActionWrite},
		{RoleAdmin, resourceVouchers, ActionDelete},
		{RoleAdmin, resourceVouchers, ActionManage},
	}
	if _, err := e.AddPolicies(policies); err != nil {
		return nil, fmt.Errorf("failed to add policies: %w", err)
	}
	groups := [][]string{
		{RoleOperator, RoleViewer},
		{RoleAdmin, RoleOperator},
	}
	if _, err := e.AddGroupingPolicies(groups); err != nil {
		return nil, fmt.Errorf("failed to add role hierarchy: %w", err)
	}
	return &Authorizer{enforcer: e}, nil
}

// Allowed reports whether role may perform action on vouchers.
func (a *Authorizer) Allowed(role, action string) (bool, error) {
	return a.enforcer.Enforce(role, resourceVouchers, action)
}

// Authorize returns ErrForbidden when the principal's role lacks action.
func (a *Authorizer) Authorize(p Principal, action string) error {
	ok, err := a.Allowed(p.Role, action)
	if err != nil {
		return fmt.Errorf("authorization check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: role %q cannot %s vouchers", ErrForbidden, p.Role, action)
	}
	return nil
}
