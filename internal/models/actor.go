package models

// Capabilities is the closed set of permissions the assignment workflow consults.
type Capabilities struct {
	CreateAssignments bool `json:"create_assignments"`
	ApproveLevel1     bool `json:"approve_level1"`
	ApproveLevel2     bool `json:"approve_level2"`
	Admin             bool `json:"admin"`
}

// CanApproveLevel reports whether the capabilities cover approval at level (1 or 2).
func (c Capabilities) CanApproveLevel(level int) bool {
	if c.Admin {
		return true
	}
	switch level {
	case 1:
		return c.ApproveLevel1
	case 2:
		return c.ApproveLevel2
	}
	return false
}

// CanApproveAny reports whether any approval level is covered.
func (c Capabilities) CanApproveAny() bool {
	return c.Admin || c.ApproveLevel1 || c.ApproveLevel2
}

// Actor is a resolved identity: who is acting and what they may do.
type Actor struct {
	ID     string
	Role   UserRole
	Caps   Capabilities
	Active bool
}

// ActorFromUser resolves capabilities once from the stored account flags.
func ActorFromUser(u *InternalUser) Actor {
	if u == nil {
		return Actor{}
	}
	admin := u.Role == RoleAdmin
	return Actor{
		ID:     u.ID,
		Role:   u.Role,
		Active: u.Active,
		Caps: Capabilities{
			Admin:             admin,
			CreateAssignments: admin || u.CanCreateAssignments,
			ApproveLevel1:     admin || u.CanApprove,
			ApproveLevel2:     admin || u.CanApproveLevel2,
		},
	}
}
