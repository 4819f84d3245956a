package session

import "slices"

// Role is a user's role within one company.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Membership links a user to one company (tenant) with an independent role.
type Membership struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// UserProfile is the identity record returned by the login and "who am I"
// endpoints. Companies keeps the order the server returned.
type UserProfile struct {
	ID        int64        `json:"id"`
	Email     string       `json:"email"`
	IsActive  bool         `json:"is_active"`
	Companies []Membership `json:"companies"`
}

// HasCompany reports whether companyID is one of the user's memberships.
func (u *UserProfile) HasCompany(companyID int64) bool {
	if u == nil {
		return false
	}
	for _, c := range u.Companies {
		if c.ID == companyID {
			return true
		}
	}
	return false
}

// Company returns the membership for companyID.
func (u *UserProfile) Company(companyID int64) (Membership, bool) {
	if u == nil {
		return Membership{}, false
	}
	for _, c := range u.Companies {
		if c.ID == companyID {
			return c, true
		}
	}
	return Membership{}, false
}

func (u *UserProfile) defaultCompanyID() *int64 {
	if u == nil || len(u.Companies) == 0 {
		return nil
	}
	id := u.Companies[0].ID
	return &id
}

func (u *UserProfile) clone() *UserProfile {
	if u == nil {
		return nil
	}
	c := *u
	c.Companies = slices.Clone(u.Companies)
	return &c
}

// Snapshot is a point-in-time copy of the session state.
//
// Invariants: User == nil implies Token == "", ActiveCompanyID == nil and
// IsAuthenticated == false. ActiveCompanyID, when set, names one of
// User.Companies.
type Snapshot struct {
	User            *UserProfile `json:"user,omitempty"`
	Token           string       `json:"-"`
	ActiveCompanyID *int64       `json:"active_company_id,omitempty"`
	IsAuthenticated bool         `json:"is_authenticated"`
}

// ActiveCompany returns the membership of the active tenant, if any.
func (s Snapshot) ActiveCompany() (Membership, bool) {
	if s.ActiveCompanyID == nil {
		return Membership{}, false
	}
	return s.User.Company(*s.ActiveCompanyID)
}
