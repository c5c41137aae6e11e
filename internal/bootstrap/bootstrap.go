// Package bootstrap brings the process into a valid state before it accepts
// requests: reference data is reconciled against the seed manifest and an
// initial administrator is provisioned when none exists. Configuration
// invariants (signing secret, bootstrap password) are enforced earlier, in
// config.Validate; by the time Run executes they are known to hold.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hourglasshq/hourglass/internal/auth"
	"github.com/hourglasshq/hourglass/internal/authz"
	"github.com/hourglasshq/hourglass/internal/storage"
)

// permission is one row of the seed manifest.
type permission struct {
	Resource string
	Action   string
}

// seedPermissions is the static permission matrix. Permissions are created
// only here, never by application code.
var seedPermissions = []permission{
	{authz.ResourceExpense, authz.ActionCreate},
	{authz.ResourceExpense, authz.ActionRead},
	{authz.ResourceExpense, authz.ActionUpdate},
	{authz.ResourceExpense, authz.ActionDelete},
	{authz.ResourceExpense, authz.ActionApprove},
	{authz.ResourceExpense, authz.ActionAdmin},
	{authz.ResourceTask, authz.ActionCreate},
	{authz.ResourceTask, authz.ActionRead},
	{authz.ResourceTask, authz.ActionUpdate},
	{authz.ResourceTask, authz.ActionDelete},
	{authz.ResourceTask, authz.ActionAdmin},
	{authz.ResourceUser, authz.ActionCreate},
	{authz.ResourceUser, authz.ActionRead},
	{authz.ResourceUser, authz.ActionUpdate},
	{authz.ResourceUser, authz.ActionDelete},
	{authz.ResourceUser, authz.ActionAdmin},
	{authz.ResourceJenkins, authz.ActionNotify},
}

// seedRoles maps each role to its grants. ADMIN holds every permission by
// convention and is handled separately.
var seedRoles = map[string]struct {
	Description string
	Grants      []permission
}{
	storage.RoleGuest: {
		Description: "Read-only visitor; no self-service password change",
		Grants: []permission{
			{authz.ResourceTask, authz.ActionRead},
			{authz.ResourceExpense, authz.ActionRead},
		},
	},
	storage.RoleUser: {
		Description: "Regular employee tracking time and expenses",
		Grants: []permission{
			{authz.ResourceExpense, authz.ActionCreate},
			{authz.ResourceExpense, authz.ActionRead},
			{authz.ResourceExpense, authz.ActionUpdate},
			{authz.ResourceExpense, authz.ActionDelete},
			{authz.ResourceTask, authz.ActionCreate},
			{authz.ResourceTask, authz.ActionRead},
			{authz.ResourceTask, authz.ActionUpdate},
			{authz.ResourceTask, authz.ActionDelete},
		},
	},
	storage.RoleExpenseAdmin: {
		Description: "Approves, rejects and reimburses expenses",
		Grants: []permission{
			{authz.ResourceExpense, authz.ActionCreate},
			{authz.ResourceExpense, authz.ActionRead},
			{authz.ResourceExpense, authz.ActionUpdate},
			{authz.ResourceExpense, authz.ActionDelete},
			{authz.ResourceExpense, authz.ActionApprove},
			{authz.ResourceExpense, authz.ActionAdmin},
			{authz.ResourceTask, authz.ActionCreate},
			{authz.ResourceTask, authz.ActionRead},
			{authz.ResourceTask, authz.ActionUpdate},
			{authz.ResourceTask, authz.ActionDelete},
		},
	},
	storage.RoleAdmin: {
		Description: "Holds every permission",
	},
	storage.RoleJenkinsService: {
		Description: "CI integration; build and deploy notifications only",
		Grants: []permission{
			{authz.ResourceJenkins, authz.ActionNotify},
		},
	},
}

const adminUsername = "admin"

// Stores groups the store dependencies of Run.
type Stores struct {
	Roles *storage.RoleStore
	Users *storage.UserStore
}

// Run reconciles reference data and provisions the initial administrator.
// It is idempotent: rerunning against a seeded database inserts nothing.
func Run(ctx context.Context, stores Stores, hasher auth.PasswordHasher, adminBootstrapPassword string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	permIDs := make(map[permission]int64, len(seedPermissions))
	for _, p := range seedPermissions {
		id, err := stores.Roles.EnsurePermission(ctx, p.Resource, p.Action)
		if err != nil {
			return fmt.Errorf("failed to seed permission %s:%s: %w", p.Resource, p.Action, err)
		}
		permIDs[p] = id
	}

	for name, def := range seedRoles {
		roleID, err := stores.Roles.EnsureRole(ctx, name, def.Description)
		if err != nil {
			return fmt.Errorf("failed to seed role %s: %w", name, err)
		}

		grants := def.Grants
		if name == storage.RoleAdmin {
			grants = seedPermissions
		}
		for _, g := range grants {
			if err := stores.Roles.EnsureGrant(ctx, roleID, permIDs[g]); err != nil {
				return fmt.Errorf("failed to seed grant %s→%s:%s: %w", name, g.Resource, g.Action, err)
			}
		}
	}

	admins, err := stores.Users.CountByRole(ctx, storage.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to count administrators: %w", err)
	}
	if admins == 0 {
		hash, err := hasher.Hash(adminBootstrapPassword)
		if err != nil {
			return fmt.Errorf("failed to hash bootstrap password: %w", err)
		}
		_, err = stores.Users.Create(ctx, storage.CreateUserParams{
			Username:            adminUsername,
			PasswordHash:        hash,
			RoleName:            storage.RoleAdmin,
			ForcePasswordChange: true,
		})
		if err != nil {
			return fmt.Errorf("failed to provision initial administrator: %w", err)
		}
		log.Info("bootstrap_admin_created", "username", adminUsername)
	}

	log.Info("bootstrap_completed", "admins", max(admins, 1))
	return nil
}
