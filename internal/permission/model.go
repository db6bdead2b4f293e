package permission

import "time"

// User is the identity record supplied by the external authentication layer.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:64;uniqueIndex:idx_users_name;not null"`
	Admin     bool   `gorm:"not null;default:false"`
	Disabled  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

// TableName defines the table name for the User model.
func (User) TableName() string {
	return "users"
}

// Group carries a baseline capability mask for its members. Exactly one group
// is the default group used for anonymous evaluation.
type Group struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:64;uniqueIndex:idx_user_groups_name;not null"`
	Permissions Bits   `gorm:"not null;default:0"`
	IsDefault   bool   `gorm:"not null;default:false;index"`
}

// TableName defines the table name for the Group model.
func (Group) TableName() string {
	return "user_groups"
}

// Membership links a user to a group.
type Membership struct {
	UserID  uint `gorm:"primaryKey"`
	GroupID uint `gorm:"primaryKey;index"`
}

// TableName defines the table name for the Membership model.
func (Membership) TableName() string {
	return "memberships"
}

// Override adds capabilities to a group on a single page.
type Override struct {
	ID          uint `gorm:"primaryKey"`
	PageID      uint `gorm:"not null;uniqueIndex:idx_overrides_page_group,priority:1"`
	GroupID     uint `gorm:"not null;uniqueIndex:idx_overrides_page_group,priority:2"`
	Permissions Bits `gorm:"not null;default:0"`
}

// TableName defines the table name for the Override model.
func (Override) TableName() string {
	return "permission_overrides"
}
