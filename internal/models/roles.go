package models

// Role is the single tagged variant for every kind of account.
type Role string

const (
	RoleVictim     Role = "victim"
	RoleOfficer    Role = "officer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Capability names an action guarded by role.
type Capability string

const (
	CapFileTrace         Capability = "trace.file"
	CapRequestOfficer    Capability = "assignment.request"
	CapSubmitCaseAction  Capability = "case_action.submit"
	CapReviewCases       Capability = "case_action.review"
	CapManageAssignments Capability = "assignment.manage"
	CapTriage            Capability = "case_action.triage"
	CapManageUsers       Capability = "user.manage"
	CapIssueSignupTokens Capability = "signup_token.issue"
	CapViewAudit         Capability = "audit.view"
	CapManageDepartments Capability = "department.manage"
)

var roleCapabilities = map[Role][]Capability{
	RoleVictim: {
		CapFileTrace,
		CapRequestOfficer,
		CapSubmitCaseAction,
	},
	RoleOfficer: {
		CapFileTrace,
		CapReviewCases,
	},
	RoleAdmin: {
		CapManageAssignments,
		CapTriage,
		CapManageUsers,
		CapIssueSignupTokens,
		CapViewAudit,
	},
	RoleSuperAdmin: {
		CapManageAssignments,
		CapTriage,
		CapManageUsers,
		CapIssueSignupTokens,
		CapViewAudit,
		CapManageDepartments,
	},
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Can reports whether the role carries the capability.
func (r Role) Can(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// IsStaff is true for administrators of any scope.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Outranks reports whether r may provision accounts of role other.
func (r Role) Outranks(other Role) bool {
	return r.rank() > other.rank()
}

func (r Role) rank() int {
	switch r {
	case RoleVictim:
		return 1
	case RoleOfficer:
		return 2
	case RoleAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}

// UserType is the coarse client-side hint used for dashboard selection.
func (r Role) UserType() string {
	switch r {
	case RoleVictim:
		return "victim"
	case RoleOfficer:
		return "officer"
	default:
		return "admin"
	}
}

// LandingRoute is the default dashboard for the role. It is a client
// convenience only; every route re-checks authorization server side.
func (r Role) LandingRoute() string {
	switch r {
	case RoleVictim:
		return "/victim/dashboard"
	case RoleOfficer:
		return "/officer/dashboard"
	default:
		return "/admin/dashboard"
	}
}
