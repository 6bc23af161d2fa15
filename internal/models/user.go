package models

import "time"

// User is a forum member. Reputation only moves through increments.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:36"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	Username     string    `gorm:"column:username;size:30;not null;uniqueIndex"`
	Bio          *string   `gorm:"column:bio;size:500"`
	Avatar       *string   `gorm:"column:avatar;size:512"`
	Reputation   int       `gorm:"column:reputation;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}
