package models

import "time"

// Question is a forum question. Votes is the denormalized sum of the
// question_votes ledger and is only written by the vote recompute.
type Question struct {
	ID        string    `gorm:"column:id;primaryKey;size:36"`
	Title     string    `gorm:"column:title;size:200;not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	Tags      []string  `gorm:"column:tags;type:text;serializer:json"`
	Views     int       `gorm:"column:views;not null;default:0"`
	Votes     int       `gorm:"column:votes;not null;default:0"`
	AuthorID  string    `gorm:"column:author_id;size:36;not null;index"`
	Author    *User     `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
	Answers   []Answer  `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing questions.
func (Question) TableName() string {
	return "questions"
}

// QuestionVote is one user's live vote on a question.
type QuestionVote struct {
	ID         string    `gorm:"column:id;primaryKey;size:36"`
	UserID     string    `gorm:"column:user_id;size:36;not null;uniqueIndex:idx_question_votes_user_question"`
	QuestionID string    `gorm:"column:question_id;size:36;not null;uniqueIndex:idx_question_votes_user_question;index"`
	Value      int       `gorm:"column:value;not null"`
	User       *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Question   *Question `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing the question vote ledger.
func (QuestionVote) TableName() string {
	return "question_votes"
}
