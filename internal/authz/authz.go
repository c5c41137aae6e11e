// Package authz resolves a principal's permission set and answers "may this
// principal perform ACTION on RESOURCE". Role→permission assignments are
// reference data, so resolutions are cached for the life of the process;
// changing a grant requires a restart.
package authz

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hourglasshq/hourglass/internal/apperr"
)

// Actions shared across resources. A permission string is RESOURCE:ACTION.
const (
	ActionCreate  = "CREATE"
	ActionRead    = "READ"
	ActionUpdate  = "UPDATE"
	ActionDelete  = "DELETE"
	ActionApprove = "APPROVE"
	ActionAdmin   = "ADMIN"
	ActionNotify  = "NOTIFY"
)

// Resources known to the core.
const (
	ResourceExpense = "EXPENSE"
	ResourceTask    = "TASK"
	ResourceUser    = "USER"
	ResourceJenkins = "JENKINS"
)

// Perm builds a RESOURCE:ACTION string.
func Perm(resource, action string) string {
	return resource + ":" + action
}

// Principal is the authenticated identity threaded explicitly through
// handlers. It is never read from a hidden global.
type Principal struct {
	Username string
	Role     string
}

// RolePermissionSource loads a role's permission strings from the store.
type RolePermissionSource interface {
	PermissionsForRole(ctx context.Context, roleName string) ([]string, error)
}

// Evaluator answers permission questions, caching per-role permission sets.
type Evaluator struct {
	source RolePermissionSource
	cache  *lru.Cache[string, map[string]struct{}]
}

func NewEvaluator(source RolePermissionSource) (*Evaluator, error) {
	// Role count is tiny; the cap only guards against pathological role
	// churn in tests.
	cache, err := lru.New[string, map[string]struct{}](64)
	if err != nil {
		return nil, err
	}
	return &Evaluator{source: source, cache: cache}, nil
}

func (e *Evaluator) permissionSet(ctx context.Context, role string) (map[string]struct{}, error) {
	if set, ok := e.cache.Get(role); ok {
		return set, nil
	}
	perms, err := e.source.PermissionsForRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for role %s: %w", role, err)
	}
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[strings.ToUpper(p)] = struct{}{}
	}
	e.cache.Add(role, set)
	return set, nil
}

// Has reports whether the principal's role holds the permission.
func (e *Evaluator) Has(ctx context.Context, p Principal, permission string) (bool, error) {
	set, err := e.permissionSet(ctx, p.Role)
	if err != nil {
		return false, err
	}
	_, ok := set[strings.ToUpper(permission)]
	return ok, nil
}

// Require returns a FORBIDDEN error when the principal lacks the permission.
func (e *Evaluator) Require(ctx context.Context, p Principal, permission string) error {
	ok, err := e.Has(ctx, p, permission)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Forbidden, "insufficient permissions")
	}
	return nil
}

// OwnerOrAdmin is the uniform record-visibility rule: the record is
// accessible to its owner, or to a principal holding the resource's ADMIN
// permission. Services use this instead of reinventing ownership checks.
func (e *Evaluator) OwnerOrAdmin(ctx context.Context, p Principal, ownerUsername, resource string) (bool, error) {
	if p.Username == ownerUsername {
		return true, nil
	}
	return e.Has(ctx, p, Perm(resource, ActionAdmin))
}
