package auth

import (
	"context"
	"fmt"
	"strings"
)

// validPermission reports whether p has the required "scope.action"
// shape with both halves non-empty. The action half may be "*".
func validPermission(p string) bool {
	scope, action, ok := strings.Cut(p, ".")
	return ok && scope != "" && action != ""
}

// permissionMatches reports whether the granted permission covers the
// requested one. A grant of "scope.*" covers every action in scope.
func permissionMatches(granted, requested string) bool {
	if granted == requested {
		return true
	}
	scope, action, _ := strings.Cut(granted, ".")
	return action == "*" && strings.HasPrefix(requested, scope+".")
}

// Authorizer answers group and permission questions for one user. It
// caches store reads for its own lifetime, so build one per request.
// Membership mutations write through and invalidate the cache.
type Authorizer struct {
	engine *Engine
	user   *User

	groups  []string
	perms   []string
	hasGrps bool
	hasPrms bool
}

// Authorize returns an Authorizer scoped to the given user.
func (e *Engine) Authorize(user *User) *Authorizer {
	return &Authorizer{engine: e, user: user}
}

// store returns the engine's group store, erroring instead of
// dereferencing nil when the engine was built without one.
func (a *Authorizer) store() (GroupStore, error) {
	if a.engine.groups == nil {
		return nil, fmt.Errorf("%w: group store not configured", ErrEngineNotReady)
	}
	return a.engine.groups, nil
}

func (a *Authorizer) loadGroups(ctx context.Context) ([]string, error) {
	if !a.hasGrps {
		store, err := a.store()
		if err != nil {
			return nil, err
		}
		groups, err := store.GroupsForUser(ctx, a.user.ID)
		if err != nil {
			return nil, err
		}
		a.groups = groups
		a.hasGrps = true
	}
	return a.groups, nil
}

func (a *Authorizer) loadPerms(ctx context.Context) ([]string, error) {
	if !a.hasPrms {
		store, err := a.store()
		if err != nil {
			return nil, err
		}
		perms, err := store.PermissionsForUser(ctx, a.user.ID)
		if err != nil {
			return nil, err
		}
		a.perms = perms
		a.hasPrms = true
	}
	return a.perms, nil
}

// Groups returns the user's unexpired group names.
func (a *Authorizer) Groups(ctx context.Context) ([]string, error) {
	return a.loadGroups(ctx)
}

// Permissions returns the user's unexpired directly-assigned
// permissions. Permissions inherited through groups are not included;
// use Can for effective checks.
func (a *Authorizer) Permissions(ctx context.Context) ([]string, error) {
	return a.loadPerms(ctx)
}

// InGroup reports whether the user belongs to at least one of the named
// groups.
func (a *Authorizer) InGroup(ctx context.Context, groups ...string) (bool, error) {
	member, err := a.loadGroups(ctx)
	if err != nil {
		return false, err
	}
	for _, want := range groups {
		for _, have := range member {
			if have == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// Can reports whether the user holds at least one of the given
// permissions, directly or through a group whose matrix entry covers it
// (including "scope.*" wildcards). A permission without a "." is a
// programming error and panics.
func (a *Authorizer) Can(ctx context.Context, perms ...string) (bool, error) {
	for _, p := range perms {
		if !validPermission(p) {
			panic(fmt.Sprintf("auth: malformed permission %q", p))
		}
	}

	direct, err := a.loadPerms(ctx)
	if err != nil {
		return false, err
	}
	groups, err := a.loadGroups(ctx)
	if err != nil {
		return false, err
	}

	matrix := a.engine.cfg.Authorization.Groups
	for _, want := range perms {
		for _, have := range direct {
			if permissionMatches(have, want) {
				return true, nil
			}
		}
		for _, g := range groups {
			for _, have := range matrix[g] {
				if permissionMatches(have, want) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// AddGroups grants the named groups. Every name must exist in the
// configured matrix; unknown names reject the whole call before any
// write.
func (a *Authorizer) AddGroups(ctx context.Context, groups ...string) error {
	for _, g := range groups {
		if _, ok := a.engine.cfg.Authorization.Groups[g]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownGroup, g)
		}
	}

	member, err := a.loadGroups(ctx)
	if err != nil {
		return err
	}
	missing := diff(groups, member)
	if len(missing) == 0 {
		return nil
	}
	if err := a.engine.groups.AddGroups(ctx, a.user.ID, missing); err != nil {
		return err
	}
	a.hasGrps = false
	return nil
}

// RemoveGroups revokes the named groups. Unknown names reject the call.
func (a *Authorizer) RemoveGroups(ctx context.Context, groups ...string) error {
	for _, g := range groups {
		if _, ok := a.engine.cfg.Authorization.Groups[g]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownGroup, g)
		}
	}
	store, err := a.store()
	if err != nil {
		return err
	}
	if err := store.RemoveGroups(ctx, a.user.ID, groups); err != nil {
		return err
	}
	a.hasGrps = false
	return nil
}

// SyncGroups replaces the user's membership with exactly the given set,
// adding and removing the difference.
func (a *Authorizer) SyncGroups(ctx context.Context, groups ...string) error {
	for _, g := range groups {
		if _, ok := a.engine.cfg.Authorization.Groups[g]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownGroup, g)
		}
	}

	member, err := a.loadGroups(ctx)
	if err != nil {
		return err
	}

	if add := diff(groups, member); len(add) > 0 {
		if err := a.engine.groups.AddGroups(ctx, a.user.ID, add); err != nil {
			return err
		}
	}
	if remove := diff(member, groups); len(remove) > 0 {
		if err := a.engine.groups.RemoveGroups(ctx, a.user.ID, remove); err != nil {
			return err
		}
	}
	a.hasGrps = false
	return nil
}

// AddPermissions grants direct permissions. Every name must be
// grantable: declared in the configured permission list or granted by
// some matrix entry.
func (a *Authorizer) AddPermissions(ctx context.Context, perms ...string) error {
	for _, p := range perms {
		if !a.engine.grantablePermission(p) {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, p)
		}
	}

	held, err := a.loadPerms(ctx)
	if err != nil {
		return err
	}
	missing := diff(perms, held)
	if len(missing) == 0 {
		return nil
	}
	if err := a.engine.groups.AddPermissions(ctx, a.user.ID, missing); err != nil {
		return err
	}
	a.hasPrms = false
	return nil
}

// RemovePermissions revokes direct permissions.
func (a *Authorizer) RemovePermissions(ctx context.Context, perms ...string) error {
	for _, p := range perms {
		if !a.engine.grantablePermission(p) {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, p)
		}
	}
	store, err := a.store()
	if err != nil {
		return err
	}
	if err := store.RemovePermissions(ctx, a.user.ID, perms); err != nil {
		return err
	}
	a.hasPrms = false
	return nil
}

// SyncPermissions replaces the user's direct permissions with exactly
// the given set, adding and removing the difference.
func (a *Authorizer) SyncPermissions(ctx context.Context, perms ...string) error {
	for _, p := range perms {
		if !a.engine.grantablePermission(p) {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, p)
		}
	}

	held, err := a.loadPerms(ctx)
	if err != nil {
		return err
	}

	if add := diff(perms, held); len(add) > 0 {
		if err := a.engine.groups.AddPermissions(ctx, a.user.ID, add); err != nil {
			return err
		}
	}
	if remove := diff(held, perms); len(remove) > 0 {
		if err := a.engine.groups.RemovePermissions(ctx, a.user.ID, remove); err != nil {
			return err
		}
	}
	a.hasPrms = false
	return nil
}

// grantablePermission reports whether p may be assigned directly to a
// user: declared in Authorization.Permissions or appearing in the
// matrix.
func (e *Engine) grantablePermission(p string) bool {
	if !validPermission(p) {
		return false
	}
	for _, known := range e.cfg.Authorization.Permissions {
		if known == p {
			return true
		}
	}
	for _, perms := range e.cfg.Authorization.Groups {
		for _, known := range perms {
			if known == p {
				return true
			}
		}
	}
	return false
}

// diff returns the elements of want absent from have, preserving order.
func diff(want, have []string) []string {
	var out []string
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			out = append(out, w)
		}
	}
	return out
}
