package models

import "time"

// AuthorView is the public summary of a user embedded in question and answer payloads.
type AuthorView struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	Avatar     *string `json:"avatar"`
	Reputation int     `json:"reputation"`
}

// UserView is a user profile without credentials.
type UserView struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	Bio        *string   `json:"bio"`
	Avatar     *string   `json:"avatar"`
	Reputation int       `json:"reputation"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type AnswerView struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	Votes      int         `json:"votes"`
	IsAccepted bool        `json:"isAccepted"`
	QuestionID string      `json:"questionId"`
	Author     *AuthorView `json:"author"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// QuestionView is a question as rendered to API clients. UserVote is the
// caller's live vote, null when the caller is anonymous or has not voted.
type QuestionView struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	Tags        []string     `json:"tags"`
	Views       int          `json:"views"`
	Votes       int          `json:"votes"`
	Author      *AuthorView  `json:"author"`
	Answers     []AnswerView `json:"answers,omitempty"`
	AnswerCount int64        `json:"answerCount"`
	UserVote    *int         `json:"userVote"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func NewAuthorView(user *User) *AuthorView {
	if user == nil {
		return nil
	}
	return &AuthorView{
		ID:         user.ID,
		Username:   user.Username,
		Avatar:     user.Avatar,
		Reputation: user.Reputation,
	}
}

func NewUserView(user User) UserView {
	return UserView{
		ID:         user.ID,
		Email:      user.Email,
		Username:   user.Username,
		Bio:        user.Bio,
		Avatar:     user.Avatar,
		Reputation: user.Reputation,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  user.UpdatedAt,
	}
}

func NewAnswerView(answer Answer) AnswerView {
	return AnswerView{
		ID:         answer.ID,
		Content:    answer.Content,
		Votes:      answer.Votes,
		IsAccepted: answer.IsAccepted,
		QuestionID: answer.QuestionID,
		Author:     NewAuthorView(answer.Author),
		CreatedAt:  answer.CreatedAt,
		UpdatedAt:  answer.UpdatedAt,
	}
}

// NewQuestionView renders a question; answers are included only when loaded.
func NewQuestionView(question Question) QuestionView {
	tags := question.Tags
	if tags == nil {
		tags = []string{}
	}
	view := QuestionView{
		ID:        question.ID,
		Title:     question.Title,
		Content:   question.Content,
		Tags:      tags,
		Views:     question.Views,
		Votes:     question.Votes,
		Author:    NewAuthorView(question.Author),
		CreatedAt: question.CreatedAt,
		UpdatedAt: question.UpdatedAt,
	}
	if question.Answers != nil {
		view.Answers = make([]AnswerView, 0, len(question.Answers))
		for _, answer := range question.Answers {
			view.Answers = append(view.Answers, NewAnswerView(answer))
		}
		view.AnswerCount = int64(len(question.Answers))
	}
	return view
}
