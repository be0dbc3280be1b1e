package user

// Role vocabulary. A user may hold several roles at once.
const (
	RoleStaff         = "staff"
	RoleLearner       = "learner"
	RoleVolunteer     = "volunteer"
	RoleGuardian      = "guardian"
	RoleAdministrator = "administrator"
)

// Clock states. The API accepts any transition between them; strict
// alternation is deliberately not enforced server-side.
const (
	StatusIn  = "In"
	StatusOut = "Out"
)

// Admin levels. A non-empty AdminLevel is the sole dashboard gate:
// "edit" grants mutations, "read-only" grants views.
const (
	AdminReadOnly = "read-only"
	AdminEdit     = "edit"
)

// TimeFormat is the wire form of every timestamp the portal stores:
// millisecond-precision UTC, matching the store's sort-key ordering.
const TimeFormat = "2006-01-02T15:04:05.000Z"

var validRoles = map[string]bool{
	RoleStaff:         true,
	RoleLearner:       true,
	RoleVolunteer:     true,
	RoleGuardian:      true,
	RoleAdministrator: true,
}

// ValidRole reports whether a role tag is part of the vocabulary.
func ValidRole(role string) bool {
	return validRoles[role]
}

// LearnerSummary is the hydrated identity a guardian sees for each of
// their learners. Rebuilt from the learner's own record on every read.
type LearnerSummary struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Status    string `json:"status,omitempty"`
}

// User is one portal identity. Stored form keeps only LearnerIDs;
// Learners is a read-time projection filled in by the repository for
// guardians and never persisted.
type User struct {
	UserID               string           `json:"userId"`
	FirstName            string           `json:"firstName"`
	LastName             string           `json:"lastName"`
	Roles                []string         `json:"roles"`
	Pin                  string           `json:"pin,omitempty"`
	Email                string           `json:"email,omitempty"`
	Status               string           `json:"status,omitempty"`
	LastClockTransaction string           `json:"lastClockTransaction,omitempty"`
	AdminLevel           string           `json:"adminLevel,omitempty"`
	LearnerIDs           []string         `json:"-"`
	Learners             []LearnerSummary `json:"learners,omitempty"`
}

// HasRole reports whether the user carries the given role tag.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsGuardian reports whether the user's role set includes guardian.
func (u User) IsGuardian() bool {
	return u.HasRole(RoleGuardian)
}

// IsAdmin reports whether any admin level is set; the role tag alone
// does not grant access.
func (u User) IsAdmin() bool {
	return u.AdminLevel != ""
}

// CanEdit reports whether the user's admin level grants mutations.
func (u User) CanEdit() bool {
	return u.AdminLevel == AdminEdit
}

// Summary projects the user into the shape guardians see.
func (u User) Summary() LearnerSummary {
	return LearnerSummary{
		UserID:    u.UserID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Status:    u.Status,
	}
}

// Update carries a partial edit. Nil pointer fields are left
// untouched; attribute names listed in Remove are deleted from the
// stored record (the caller maps explicit JSON nulls onto Remove).
type Update struct {
	FirstName            *string
	LastName             *string
	Pin                  *string
	Email                *string
	AdminLevel           *string
	Status               *string
	LastClockTransaction *string
	Roles                *[]string
	Learners             *[]string
	Remove               []string
}
