package model

import "time"

// Staff roles.
const (
	RoleAdmin          = "ADMIN"
	RoleOps            = "OPS"
	RoleSales          = "SALES"
	RoleContentManager = "CONTENT_MANAGER"
)

// User is the staff member an event can be attributed to.
type User struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	FullName  string    `gorm:"size:255" json:"fullName,omitempty"`
	Role      string    `gorm:"size:32;not null;default:'OPS'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}

func (User) TableName() string { return "users" }
