package domain

// StaffRole enumerates internal operator roles.
type StaffRole string

const (
	StaffRoleNone     StaffRole = ""
	StaffRoleAgent    StaffRole = "AGENT"
	StaffRoleTeamLead StaffRole = "TEAM_LEAD"
	StaffRoleAdmin    StaffRole = "ADMIN"
)

var roleRank = map[StaffRole]int{
	StaffRoleNone:     0,
	StaffRoleAgent:    1,
	StaffRoleTeamLead: 2,
	StaffRoleAdmin:    3,
}

// AtLeast reports whether r ranks at or above min.
func (r StaffRole) AtLeast(min StaffRole) bool {
	return roleRank[r] >= roleRank[min]
}

// Valid reports whether r is a known staff role.
func (r StaffRole) Valid() bool {
	_, ok := roleRank[r]
	return ok && r != StaffRoleNone
}

// Actor identifies who triggered an operation. A nil *Actor means the system.
type Actor struct {
	ID   string
	Name string
	Role StaffRole
}

// IsStaff reports whether the actor holds any staff role.
func (a *Actor) IsStaff() bool {
	return a != nil && a.Role.Valid()
}

// IDPtr returns the actor ID, or nil for the system actor.
func (a *Actor) IDPtr() *string {
	if a == nil {
		return nil
	}
	id := a.ID
	return &id
}
