package models

import "time"

// Answer is a reply to a question. Votes is a running counter floored at zero.
type Answer struct {
	ID         string    `gorm:"column:id;primaryKey;size:36"`
	Content    string    `gorm:"column:content;type:text;not null"`
	Votes      int       `gorm:"column:votes;not null;default:0"`
	IsAccepted bool      `gorm:"column:is_accepted;not null;default:false"`
	AuthorID   string    `gorm:"column:author_id;size:36;not null;index"`
	Author     *User     `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
	QuestionID string    `gorm:"column:question_id;size:36;not null;index"`
	Question   *Question `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing answers.
func (Answer) TableName() string {
	return "answers"
}

// All lists every model in dependency order for schema migration.
func All() []interface{} {
	return []interface{}{&User{}, &Question{}, &Answer{}, &QuestionVote{}}
}
