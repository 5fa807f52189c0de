package gateway

import (
	"github.com/spec-kit/ticket-relay/internal/config"
	"github.com/spec-kit/ticket-relay/internal/domain"
)

// RoleMapper maps guild member roles to staff roles.
type RoleMapper struct {
	staff map[string]struct{}
	lead  map[string]struct{}
	admin map[string]struct{}
}

// NewRoleMapper builds a mapper from the configured role ID lists.
func NewRoleMapper(cfg config.DiscordConfig) *RoleMapper {
	return &RoleMapper{
		staff: toSet(cfg.StaffRoleIDs),
		lead:  toSet(cfg.LeadRoleIDs),
		admin: toSet(cfg.AdminRoleIDs),
	}
}

// Resolve returns the highest staff role held through memberRoles.
func (m *RoleMapper) Resolve(memberRoles []string) domain.StaffRole {
	role := domain.StaffRoleNone
	for _, id := range memberRoles {
		switch {
		case has(m.admin, id):
			return domain.StaffRoleAdmin
		case has(m.lead, id):
			role = domain.StaffRoleTeamLead
		case has(m.staff, id) && role == domain.StaffRoleNone:
			role = domain.StaffRoleAgent
		}
	}
	return role
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func has(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}
