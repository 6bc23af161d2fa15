package notifications

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/events"
)

const (
	EventNewQuestion                = "newQuestion"
	EventNewAnswer                  = "newAnswer"
	EventAnswerNotification         = "answerNotification"
	EventAnswerVoteUpdate           = "answerVoteUpdate"
	EventAnswerAccepted             = "answerAccepted"
	EventAnswerAcceptedNotification = "answerAcceptedNotification"

	messageNewQuestion    = "A new question has been posted"
	messageAnswered       = "%s answered your question"
	messageAnswerAccepted = "Your answer was accepted!"

	previewLength = 100
)

// Frame is the JSON envelope of every message written to a socket.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type authorSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type questionSummary struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Author    authorSummary `json:"author"`
	CreatedAt time.Time     `json:"createdAt"`
}

type newQuestionPayload struct {
	Message  string          `json:"message"`
	Question questionSummary `json:"question"`
}

type answerSummary struct {
	ID         string        `json:"id"`
	Content    string        `json:"content"`
	Votes      int           `json:"votes"`
	IsAccepted bool          `json:"isAccepted"`
	Author     authorSummary `json:"author"`
	CreatedAt  time.Time     `json:"createdAt"`
}

type newAnswerPayload struct {
	QuestionID string        `json:"questionId"`
	Answer     answerSummary `json:"answer"`
}

type answerPreview struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Author    authorSummary `json:"author"`
	CreatedAt time.Time     `json:"createdAt"`
}

type answerNotificationPayload struct {
	Message    string        `json:"message"`
	QuestionID string        `json:"questionId"`
	Answer     answerPreview `json:"answer"`
}

type answerVoteUpdatePayload struct {
	AnswerID   string `json:"answerId"`
	Votes      int    `json:"votes"`
	QuestionID string `json:"questionId"`
}

type answerAcceptedPayload struct {
	AnswerID   string `json:"answerId"`
	QuestionID string `json:"questionId"`
}

type answerAcceptedNotificationPayload struct {
	Message    string `json:"message"`
	AnswerID   string `json:"answerId"`
	QuestionID string `json:"questionId"`
}

func newAuthorSummary(author events.Author) authorSummary {
	return authorSummary{ID: author.ID, Username: author.Username}
}

func newQuestionFrame(event events.QuestionCreated) Frame {
	return Frame{
		Event: EventNewQuestion,
		Data: newQuestionPayload{
			Message: messageNewQuestion,
			Question: questionSummary{
				ID:        event.QuestionID,
				Title:     event.Title,
				Author:    newAuthorSummary(event.Author),
				CreatedAt: event.CreatedAt,
			},
		},
	}
}

func newAnswerFrame(event events.AnswerCreated) Frame {
	return Frame{
		Event: EventNewAnswer,
		Data: newAnswerPayload{
			QuestionID: event.QuestionID,
			Answer: answerSummary{
				ID:         event.AnswerID,
				Content:    event.Content,
				Votes:      event.Votes,
				IsAccepted: event.IsAccepted,
				Author:     newAuthorSummary(event.Author),
				CreatedAt:  event.CreatedAt,
			},
		},
	}
}

func answerNotificationFrame(event events.AnswerCreated) Frame {
	name := event.Author.Username
	if name == "" {
		name = "Someone"
	}
	return Frame{
		Event: EventAnswerNotification,
		Data: answerNotificationPayload{
			Message:    fmt.Sprintf(messageAnswered, name),
			QuestionID: event.QuestionID,
			Answer: answerPreview{
				ID:        event.AnswerID,
				Content:   preview(event.Content),
				Author:    newAuthorSummary(event.Author),
				CreatedAt: event.CreatedAt,
			},
		},
	}
}

func answerVoteUpdateFrame(event events.AnswerVoted) Frame {
	return Frame{
		Event: EventAnswerVoteUpdate,
		Data: answerVoteUpdatePayload{
			AnswerID:   event.AnswerID,
			Votes:      event.Votes,
			QuestionID: event.QuestionID,
		},
	}
}

func answerAcceptedFrame(event events.AnswerAccepted) Frame {
	return Frame{
		Event: EventAnswerAccepted,
		Data: answerAcceptedPayload{
			AnswerID:   event.AnswerID,
			QuestionID: event.QuestionID,
		},
	}
}

func answerAcceptedNotificationFrame(event events.AnswerAccepted) Frame {
	return Frame{
		Event: EventAnswerAcceptedNotification,
		Data: answerAcceptedNotificationPayload{
			Message:    messageAnswerAccepted,
			AnswerID:   event.AnswerID,
			QuestionID: event.QuestionID,
		},
	}
}

// preview cuts content to previewLength runes and marks the cut.
func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "..."
}
