// Package permissions decides whether a user-triggered run may perform an action in a tenant.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
)

// Wildcard grants every action key when present in a role's permission list.
const Wildcard = "*"

var (
	ErrRoleNotFound          = errors.New("role not found")
	ErrPermissionMapNotFound = errors.New("permission map not found")
)

// Oracle answers whether role may perform actionKey under a tenant permission map.
type Oracle interface {
	HasPermission(role, actionKey string, permissionMap map[string][]string) bool
}

// RoleResolver returns the role a user holds in an organization.
type RoleResolver interface {
	Role(ctx context.Context, organizationID, userID string) (string, error)
}

// PermissionMapStore returns a tenant's role to action-key map.
type PermissionMapStore interface {
	PermissionMap(ctx context.Context, organizationID string) (map[string][]string, error)
}

// RoleMapOracle grants by membership in the permission map. Roles listed in SuperRoles are granted everything.
type RoleMapOracle struct {
	SuperRoles []string
}

func NewRoleMapOracle() *RoleMapOracle {
	return &RoleMapOracle{SuperRoles: []string{"admin", "owner"}}
}

func (o *RoleMapOracle) HasPermission(role, actionKey string, permissionMap map[string][]string) bool {
	if role == "" {
		return false
	}

	if slices.Contains(o.SuperRoles, role) {
		return true
	}

	allowed := permissionMap[role]

	return slices.Contains(allowed, actionKey) || slices.Contains(allowed, Wildcard)
}

// Checker enforces permissions for action dispatch.
type Checker struct {
	oracle Oracle
	roles  RoleResolver
	maps   PermissionMapStore
}

func NewChecker(oracle Oracle, roles RoleResolver, maps PermissionMapStore) *Checker {
	return &Checker{oracle: oracle, roles: roles, maps: maps}
}

// Check returns "" when the action is allowed, or a human readable denial reason.
// System triggered runs bypass the check.
func (c *Checker) Check(ctx context.Context, actx models.ActionContext, actionType models.ActionType) string {
	if actx.IsSystem() {
		return ""
	}

	actionKey := actionType.PermissionKey()

	if c == nil || c.oracle == nil || c.roles == nil || c.maps == nil {
		return fmt.Sprintf("permission denied: no permission source configured for %q", actionKey)
	}

	role, err := c.roles.Role(ctx, actx.OrganizationID, actx.TriggeredBy)
	if err != nil {
		return fmt.Sprintf("permission denied: role of user %q could not be resolved: %v", actx.TriggeredBy, err)
	}

	permissionMap, err := c.maps.PermissionMap(ctx, actx.OrganizationID)
	if err != nil && !errors.Is(err, ErrPermissionMapNotFound) {
		return fmt.Sprintf("permission denied: permission map could not be loaded: %v", err)
	}

	if !c.oracle.HasPermission(role, actionKey, permissionMap) {
		return fmt.Sprintf("permission denied: role %q may not perform %q", role, actionKey)
	}

	return ""
}

// StaticRoles resolves roles from an in-memory org -> user -> role table.
type StaticRoles struct {
	mu    sync.RWMutex
	roles map[string]map[string]string
}

func NewStaticRoles() *StaticRoles {
	return &StaticRoles{roles: map[string]map[string]string{}}
}

func (s *StaticRoles) Assign(organizationID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roles[organizationID] == nil {
		s.roles[organizationID] = map[string]string{}
	}

	s.roles[organizationID][userID] = role
}

func (s *StaticRoles) Role(_ context.Context, organizationID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[organizationID][userID]
	if !ok {
		return "", ErrRoleNotFound
	}

	return role, nil
}

// StaticPermissionMaps serves tenant permission maps from memory, falling back to Default.
type StaticPermissionMaps struct {
	mu      sync.RWMutex
	maps    map[string]map[string][]string
	Default map[string][]string
}

func NewStaticPermissionMaps(defaults map[string][]string) *StaticPermissionMaps {
	return &StaticPermissionMaps{maps: map[string]map[string][]string{}, Default: defaults}
}

func (s *StaticPermissionMaps) Set(organizationID string, permissionMap map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maps[organizationID] = permissionMap
}

func (s *StaticPermissionMaps) PermissionMap(_ context.Context, organizationID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.maps[organizationID]; ok {
		return m, nil
	}

	if s.Default != nil {
		return s.Default, nil
	}

	return nil, ErrPermissionMapNotFound
}

// DefaultPermissionMap is the role map used when a tenant has not configured one.
func DefaultPermissionMap() map[string][]string {
	return map[string][]string{
		"manager": {
			models.ActionSendRequest.PermissionKey(),
			models.ActionSendEmail.PermissionKey(),
			models.ActionGenerateReport.PermissionKey(),
			models.ActionCreateTask.PermissionKey(),
			models.ActionResolveReconciliation.PermissionKey(),
		},
		"analyst": {
			models.ActionGenerateReport.PermissionKey(),
			models.ActionCreateTask.PermissionKey(),
		},
		"viewer": {},
	}
}
