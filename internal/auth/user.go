package auth

import "time"

// User is a portal account. Jobs reference it as their assignee and
// transition records name it as the actor.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	FullName  string    `gorm:"not null;default:''" json:"full_name"`
	Role      string    `gorm:"not null;default:'user'" json:"role"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}
