package core

import (
	"errors"
	"fmt"

	"depot-go/internal/model"
)

// AccessControl resolves "can user U do action A on path P" and manages
// sharing grants. Decisions are a pure function of the permission
// record's current state: exact path match only, no inheritance from
// parent paths, no hidden fallback.
type AccessControl struct {
	store    MetadataStore
	resolver IdentityResolver
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// GrantRequest is a sharing grant as submitted by a caller: an
// unresolved identity reference plus the requested flags.
type GrantRequest struct {
	Identity string // User ID or email; resolved before storing
	Read     bool
	Write    bool
	Delete   bool
}

// NewAccessControl creates an AccessControl with the provided dependencies.
func NewAccessControl(store MetadataStore, resolver IdentityResolver, logger Logger, clock Clock, idgen IDGenerator) *AccessControl {
	return &AccessControl{
		store:    store,
		resolver: resolver,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// Authorize reports whether userID may perform action on path.
// No permission record means deny: access is fail-closed.
func (a *AccessControl) Authorize(userID, path string, action model.Action) (bool, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	perm, err := a.store.FindPermissionByPath(normalized)
	if err != nil {
		return false, fmt.Errorf("finding permission: %w", err)
	}
	if perm == nil {
		return false, nil
	}
	if perm.OwnerID == userID {
		return true, nil
	}
	switch perm.AccessType {
	case model.AccessPublic:
		return true, nil
	case model.AccessShared:
		if grant := perm.Grant(userID); grant != nil {
			return grant.Allows(action), nil
		}
	}
	return false, nil
}

// Controlled reports whether a permission record exists for path.
// Callers use this to distinguish "unclaimed path" from "explicitly
// denied" when deciding whether a first write may proceed.
func (a *AccessControl) Controlled(path string) (bool, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	perm, err := a.store.FindPermissionByPath(normalized)
	if err != nil {
		return false, fmt.Errorf("finding permission: %w", err)
	}
	return perm != nil, nil
}

// SetAccess configures the permission record for a path. On first
// configuration the caller becomes owner; afterwards only the owner
// may change it. Each grant's identity reference is resolved before
// storing; unknown identities are dropped, not an error.
func (a *AccessControl) SetAccess(userID, path string, accessType model.AccessType, grants []GrantRequest) (*model.PermissionRecord, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if normalized == "" {
		return nil, fmt.Errorf("path is required: %w", ErrValidation)
	}
	if userID == "" {
		return nil, fmt.Errorf("owner is required: %w", ErrValidation)
	}

	existing, err := a.store.FindPermissionByPath(normalized)
	if err != nil {
		return nil, fmt.Errorf("finding permission: %w", err)
	}
	if existing != nil && existing.OwnerID != userID {
		return nil, fmt.Errorf("only the owner may change access to %s: %w", normalized, ErrPermissionDenied)
	}

	now := a.clock.Now()
	id := a.idgen.New()
	if existing != nil {
		id = existing.ID
	}
	perm, err := model.NewPermissionRecord(id, normalized, userID, accessType, now)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}
	if existing != nil {
		perm.CreatedAt = existing.CreatedAt
	}

	for _, g := range grants {
		resolved, err := a.resolver.ResolveIdentity(g.Identity)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				a.logger.Debug("dropping grant for unknown identity", "identity", g.Identity, "path", normalized)
				continue
			}
			return nil, fmt.Errorf("resolving identity %s: %w", g.Identity, err)
		}
		if perm.Grant(resolved) != nil {
			continue // one entry per identity
		}
		perm.SharedWith = append(perm.SharedWith, model.SharedGrant{
			UserID: resolved,
			Read:   g.Read,
			Write:  g.Write,
			Delete: g.Delete,
		})
	}

	if err := a.store.UpsertPermission(perm); err != nil {
		return nil, fmt.Errorf("saving permission: %w", err)
	}

	a.logger.Info("access configured", "path", normalized, "type", perm.AccessType, "grants", len(perm.SharedWith))
	return perm, nil
}

// GetPermissions returns the permission record for a path. Only the
// owner may inspect it.
func (a *AccessControl) GetPermissions(userID, path string) (*model.PermissionRecord, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	perm, err := a.store.FindPermissionByPath(normalized)
	if err != nil {
		return nil, fmt.Errorf("finding permission: %w", err)
	}
	if perm == nil {
		return nil, fmt.Errorf("no permissions for %s: %w", normalized, ErrNotFound)
	}
	if perm.OwnerID != userID {
		return nil, fmt.Errorf("only the owner may view access to %s: %w", normalized, ErrPermissionDenied)
	}
	return perm, nil
}

// Revoke removes the sharing grant for targetIdentity from a path.
// Owner-only; revoking an identity that has no grant is a no-op.
func (a *AccessControl) Revoke(userID, path, targetIdentity string) (*model.PermissionRecord, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	perm, err := a.store.FindPermissionByPath(normalized)
	if err != nil {
		return nil, fmt.Errorf("finding permission: %w", err)
	}
	if perm == nil {
		return nil, fmt.Errorf("no permissions for %s: %w", normalized, ErrNotFound)
	}
	if perm.OwnerID != userID {
		return nil, fmt.Errorf("only the owner may revoke access to %s: %w", normalized, ErrPermissionDenied)
	}

	target := targetIdentity
	if resolved, err := a.resolver.ResolveIdentity(targetIdentity); err == nil {
		target = resolved
	}

	kept := perm.SharedWith[:0]
	for _, g := range perm.SharedWith {
		if g.UserID != target {
			kept = append(kept, g)
		}
	}
	perm.SharedWith = kept
	perm.Touch(a.clock.Now())

	if err := a.store.UpsertPermission(perm); err != nil {
		return nil, fmt.Errorf("saving permission: %w", err)
	}

	a.logger.Info("access revoked", "path", normalized, "user", target)
	return perm, nil
}

// ListSharedWith returns every permission record that names userID in
// its sharedWith set. Read-only; no authorization beyond the identity
// being the query subject.
func (a *AccessControl) ListSharedWith(userID string) ([]*model.PermissionRecord, error) {
	perms, err := a.store.FindPermissionsSharedWith(userID)
	if err != nil {
		return nil, fmt.Errorf("listing shared permissions: %w", err)
	}
	return perms, nil
}
