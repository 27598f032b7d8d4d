package model

import "time"

// Participant is an account, keyed by its stable username.
// FollowerCount and FollowingCount are derived from follow_edges.
type Participant struct {
	Username       string    `gorm:"primaryKey;size:32" json:"username"`
	PasswordHash   string    `gorm:"size:64;not null" json:"-"`
	Email          string    `gorm:"size:128" json:"email"`
	FirstName      string    `gorm:"size:64" json:"first_name"`
	LastName       string    `gorm:"size:64" json:"last_name"`
	ProfilePicture string    `gorm:"type:text" json:"profile_picture,omitempty"`
	FollowerCount  int64     `gorm:"not null;default:0" json:"follower_count"`
	FollowingCount int64     `gorm:"not null;default:0" json:"following_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
