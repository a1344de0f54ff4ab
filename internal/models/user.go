package models

import "time"

type UserRole string

const (
	RoleCarOwner UserRole = "carOwner"
	RoleMechanic UserRole = "mechanic"
)

func (r UserRole) Valid() bool {
	return r == RoleCarOwner || r == RoleMechanic
}

// MechanicProfile is only present for users with the mechanic role.
type MechanicProfile struct {
	Expertise []string `json:"expertise" bson:"expertise"`
	Rating    float64  `json:"rating" bson:"rating"`
	Location  string   `json:"location,omitempty" bson:"location,omitempty"`
}

// User is an email-keyed account.
type User struct {
	ID           string           `json:"id" bson:"_id"`
	Email        string           `json:"email" bson:"email"`
	Phone        string           `json:"phone,omitempty" bson:"phone,omitempty"`
	Name         string           `json:"name" bson:"name"`
	Role         UserRole         `json:"role" bson:"role"`
	PasswordHash string           `json:"-" bson:"passwordHash"`
	Mechanic     *MechanicProfile `json:"mechanicProfile,omitempty" bson:"mechanicProfile,omitempty"`
	CreatedAt    time.Time        `json:"createdAt" bson:"createdAt"`
}
