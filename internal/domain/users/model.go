package users

import "time"

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// User is the local projection of an identity managed by the auth provider.
type User struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Email     string `gorm:"not null;uniqueIndex:idx_users_email"`
	Name      string
	Lastname  string
	Role      string `gorm:"type:varchar(20);not null"`
	Country   string `gorm:"type:varchar(2)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) FullName() string {
	if u.Lastname == "" {
		return u.Name
	}
	return u.Name + " " + u.Lastname
}

// Identity is the authenticated caller as resolved by the auth middleware.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
