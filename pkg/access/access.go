package access

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("access",
	fx.Provide(NewEnforcer),
)

type Role string

const (
	RoleService Role = "service"
	RoleStaff   Role = "staff"
	RoleSupport Role = "support"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleService, RoleStaff, RoleSupport, RoleAdmin:
		return true
	default:
		return false
	}
}

type Action string

const (
	PointsRead        Action = "points.read"
	PointsExport      Action = "points.export"
	PointsAward       Action = "points.award"
	PointsRedeem      Action = "points.redeem"
	PointsAdjust      Action = "points.adjust"
	PointsConfigRead  Action = "points.config.read"
	PointsConfigWrite Action = "points.config.write"
	PointsExpiryRun   Action = "points.expiry.run"
	CustomersRead     Action = "customers.read"
	CustomersWrite    Action = "customers.write"
)

// Permissions is the role → allowed action table. Roles listed in
// Inherits also receive every action of their parent.
var Permissions = map[Role][]Action{
	RoleService: {PointsRead, PointsAward, PointsRedeem, CustomersRead, CustomersWrite},
	RoleStaff:   {PointsRead, PointsExport, CustomersRead},
	RoleSupport: {PointsAward, PointsRedeem, PointsAdjust, CustomersWrite},
	RoleAdmin:   {PointsConfigRead, PointsConfigWrite, PointsExpiryRun},
}

var Inherits = map[Role]Role{
	RoleSupport: RoleStaff,
	RoleAdmin:   RoleSupport,
}

const rbacModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

// Authorizer answers whether a role may perform an action.
type Authorizer interface {
	Allowed(role Role, action Action) bool
}

type Enforcer struct {
	enforcer *casbin.Enforcer
}

func NewEnforcer() (Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load rbac model: %w", err)
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	for role, actions := range Permissions {
		for _, act := range actions {
			if _, err := e.AddPolicy(string(role), string(act)); err != nil {
				return nil, fmt.Errorf("add policy %s %s: %w", role, act, err)
			}
		}
	}

	for child, parent := range Inherits {
		if _, err := e.AddGroupingPolicy(string(child), string(parent)); err != nil {
			return nil, fmt.Errorf("add role %s -> %s: %w", child, parent, err)
		}
	}

	return &Enforcer{enforcer: e}, nil
}

func (e *Enforcer) Allowed(role Role, action Action) bool {
	ok, err := e.enforcer.Enforce(string(role), string(action))
	if err != nil {
		zap.L().Error("casbin enforce failed", zap.String("role", string(role)), zap.String("action", string(action)), zap.Error(err))
		return false
	}
	return ok
}
