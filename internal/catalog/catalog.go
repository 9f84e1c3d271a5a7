// Package catalog exposes the fixed type→role routing table as lookups.
// The table is configuration: inconsistencies fail at build time, never at
// call time.
package catalog

import (
	"sort"

	"ndjobi/internal/config"
	"ndjobi/internal/domain"
)

type Catalog struct {
	types   []config.TypeDef
	roles   []domain.AgentRole
	byType  map[string][]domain.AgentRole
	byRole  map[string]domain.AgentRole
	typeSet map[string]config.TypeDef
}

// New builds a catalog from validated config. The config is re-validated so a
// hand-constructed Config cannot smuggle an inconsistent mapping past load.
func New(cfg *config.Config) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Catalog{
		types:   append([]config.TypeDef(nil), cfg.Catalog.Types...),
		byType:  map[string][]domain.AgentRole{},
		byRole:  map[string]domain.AgentRole{},
		typeSet: map[string]config.TypeDef{},
	}
	for _, t := range c.types {
		c.typeSet[t.ID] = t
	}
	for _, def := range cfg.Catalog.Roles {
		role := domain.AgentRole{
			ID:          def.ID,
			Label:       def.Label,
			Description: def.Description,
			Types:       append([]string(nil), def.Types...),
			Rank:        def.Rank,
		}
		c.roles = append(c.roles, role)
		c.byRole[role.ID] = role
		for _, t := range role.Types {
			c.byType[t] = append(c.byType[t], role)
		}
	}
	sort.Slice(c.roles, func(i, j int) bool { return c.roles[i].Rank < c.roles[j].Rank })
	for _, candidates := range c.byType {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Rank < candidates[j].Rank })
	}
	return c, nil
}

// RolesFor returns the roles accepting typ, in rank order. Empty when the
// type is unknown to the catalog.
func (c *Catalog) RolesFor(typ string) []domain.AgentRole {
	return append([]domain.AgentRole(nil), c.byType[typ]...)
}

// AllowedTypes returns the report types the role accepts.
func (c *Catalog) AllowedTypes(roleID string) []string {
	role, ok := c.byRole[roleID]
	if !ok {
		return nil
	}
	return append([]string(nil), role.Types...)
}

// Role returns role metadata by id.
func (c *Catalog) Role(id string) (domain.AgentRole, bool) {
	role, ok := c.byRole[id]
	return role, ok
}

// Roles lists every role in rank order.
func (c *Catalog) Roles() []domain.AgentRole {
	return append([]domain.AgentRole(nil), c.roles...)
}

// Types lists every report type.
func (c *Catalog) Types() []config.TypeDef {
	return append([]config.TypeDef(nil), c.types...)
}

// HasType reports whether typ is part of the catalog.
func (c *Catalog) HasType(typ string) bool {
	_, ok := c.typeSet[typ]
	return ok
}

// TypeLabel returns the display label for typ, or typ itself when unknown.
func (c *Catalog) TypeLabel(typ string) string {
	if t, ok := c.typeSet[typ]; ok && t.Label != "" {
		return t.Label
	}
	return typ
}
