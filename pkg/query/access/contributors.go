package access

import (
	"context"

	"github.com/sw33tLie/searchtrack/pkg/query"
)

// Indexed fields read by the contributors.
const (
	FieldVisibility = "visibility"
	FieldGroups     = "groups"
	FieldStatus     = "status"
	FieldOwner      = "uid"
	FieldUserStatus = "user_status"
)

// Visibility values of FieldVisibility.
const (
	VisibilityPublic    = "public"
	VisibilityCommunity = "community"
	VisibilityGroup     = "group"
)

// DefaultManagePermissions maps entity types to the permission that grants
// access to all of their items.
var DefaultManagePermissions = map[string]string{
	"node":    "bypass node access",
	"group":   "manage all groups",
	"profile": "view any profile",
}

// ManageAll lets accounts holding a type's permission see every item of
// that type.
type ManageAll struct {
	// Permissions defaults to DefaultManagePermissions.
	Permissions map[string]string
}

func (m *ManageAll) Name() string { return "manage_all" }

func (m *ManageAll) Contribute(ctx context.Context, ev *query.TaggedEvent) error {
	perms := m.Permissions
	if perms == nil {
		perms = DefaultManagePermissions
	}
	for _, e := range ev.Tagging.Entities() {
		if p, ok := perms[e.EntityType]; ok && ev.Account.HasPermission(p) {
			e.Access.AddCondition(query.FieldID, nil, query.OpNotEqual)
		}
	}
	return nil
}

// ContentVisibility grants access by the visibility field: public items to
// everyone, community items to authenticated accounts and group items to
// members of one of the item's groups.
type ContentVisibility struct {
	// EntityTypes defaults to node and group.
	EntityTypes []string
}

func (c *ContentVisibility) Name() string { return "content_visibility" }

func (c *ContentVisibility) Contribute(ctx context.Context, ev *query.TaggedEvent) error {
	types := c.EntityTypes
	if types == nil {
		types = []string{"node", "group"}
	}
	for _, t := range types {
		e, err := ev.Tagging.Entity(t)
		if err != nil {
			continue
		}
		e.Access.AddCondition(FieldVisibility, VisibilityPublic, query.OpEqual)
		if !ev.Account.Authenticated() {
			continue
		}
		e.Access.AddCondition(FieldVisibility, VisibilityCommunity, query.OpEqual)

		// Kept even without memberships: an empty IN matches nothing.
		memberships := append([]int64{}, ev.Account.Groups...)
		e.Access.AddGroup(query.NewGroup(query.And).
			AddCondition(FieldVisibility, VisibilityGroup, query.OpEqual).
			AddCondition(FieldGroups, memberships, query.OpIn))
	}
	return nil
}

// Published hides unpublished items, except from their owner when the
// owner may view their own unpublished content.
type Published struct {
	EntityTypes   []string
	OwnPermission string
	// BypassPermissions defaults to DefaultManagePermissions.
	BypassPermissions map[string]string
}

func (p *Published) Name() string { return "published" }

func (p *Published) Contribute(ctx context.Context, ev *query.TaggedEvent) error {
	types := p.EntityTypes
	if types == nil {
		types = []string{"node"}
	}
	own := p.OwnPermission
	if own == "" {
		own = "view own unpublished content"
	}
	bypass := p.BypassPermissions
	if bypass == nil {
		bypass = DefaultManagePermissions
	}

	for _, t := range types {
		e, err := ev.Tagging.Entity(t)
		if err != nil {
			continue
		}
		if perm, ok := bypass[t]; ok && ev.Account.HasPermission(perm) {
			continue
		}
		cond := query.NewGroup(query.Or).AddCondition(FieldStatus, 1, query.OpEqual)
		if ev.Account.Authenticated() && ev.Account.HasPermission(own) {
			cond.AddCondition(FieldOwner, ev.Account.ID, query.OpEqual)
		}
		e.Group.AddGroup(cond)
	}
	return nil
}

// BlockedUsers hides profiles of blocked users from accounts that may not
// administer users.
type BlockedUsers struct {
	EntityType      string
	AdminPermission string
}

func (b *BlockedUsers) Name() string { return "blocked_users" }

func (b *BlockedUsers) Contribute(ctx context.Context, ev *query.TaggedEvent) error {
	entityType := b.EntityType
	if entityType == "" {
		entityType = "profile"
	}
	admin := b.AdminPermission
	if admin == "" {
		admin = "administer users"
	}
	if ev.Account.HasPermission(admin) {
		return nil
	}
	e, err := ev.Tagging.Entity(entityType)
	if err != nil {
		// No profiles in this index.
		return nil
	}
	e.Group.AddCondition(FieldUserStatus, 1, query.OpEqual)
	return nil
}
