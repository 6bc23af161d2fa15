package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewID issues a random UUID used as a primary key.
func NewID() string {
	return uuid.NewString()
}

func assignID(id *string) {
	if *id == "" {
		*id = NewID()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error {
	assignID(&u.ID)
	return nil
}

func (q *Question) BeforeCreate(*gorm.DB) error {
	assignID(&q.ID)
	return nil
}

func (a *Answer) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}

func (v *QuestionVote) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}
