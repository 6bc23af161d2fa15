// Package events carries domain notifications from the services to the
// realtime hub. The set of variants is closed.
package events

import "time"

// Event is implemented only by the variants in this package.
type Event interface {
	eventName() string
}

// Name returns the stable identifier of an event variant, used in logs.
func Name(event Event) string {
	if event == nil {
		return ""
	}
	return event.eventName()
}

// Author is the public slice of a user carried inside events.
type Author struct {
	ID       string
	Username string
}

// QuestionCreated fires after a question is stored.
type QuestionCreated struct {
	QuestionID string
	Title      string
	Author     Author
	CreatedAt  time.Time
}

// AnswerCreated fires after an answer is stored.
type AnswerCreated struct {
	AnswerID         string
	QuestionID       string
	QuestionAuthorID string
	Content          string
	Votes            int
	IsAccepted       bool
	Author           Author
	CreatedAt        time.Time
}

// AnswerVoted carries the answer tally after a vote.
type AnswerVoted struct {
	AnswerID   string
	QuestionID string
	Votes      int
}

// AnswerAccepted fires when a question author accepts an answer.
type AnswerAccepted struct {
	AnswerID   string
	QuestionID string
	// AuthorID is the author of the accepted answer.
	AuthorID string
}

func (QuestionCreated) eventName() string { return "question.created" }
func (AnswerCreated) eventName() string   { return "answer.created" }
func (AnswerVoted) eventName() string     { return "answer.voted" }
func (AnswerAccepted) eventName() string  { return "answer.accepted" }
