package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	messageInvalidBody  = "Invalid request body"
	messageInvalidQuery = "Invalid query parameters"
	messageInvalidUUID  = "Validation failed (uuid is expected)"
)

var (
	registerValidatorsOnce sync.Once
	handlePattern          = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,min=3,max=30,handle"`
	Password string `json:"password" binding:"required,min=8,max=100,password"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type createQuestionRequest struct {
	Title   string   `json:"title" binding:"required,min=10,max=200"`
	Content string   `json:"content" binding:"required,min=30,max=10000"`
	Tags    []string `json:"tags" binding:"omitempty,max=5"`
}

type updateQuestionRequest struct {
	Title   *string   `json:"title" binding:"omitempty,min=10,max=200"`
	Content *string   `json:"content" binding:"omitempty,min=30,max=10000"`
	Tags    *[]string `json:"tags" binding:"omitempty,max=5"`
}

type voteRequest struct {
	Value *int `json:"value" binding:"required,oneof=-1 0 1"`
}

type answerRequest struct {
	Content string `json:"content" binding:"required,min=30,max=10000"`
}

type updateUserRequest struct {
	Username *string `json:"username" binding:"omitempty,min=3,max=30,handle"`
	Bio      *string `json:"bio" binding:"omitempty,max=500"`
	Avatar   *string `json:"avatar" binding:"omitempty"`
}

type listQuestionsQuery struct {
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Search string `form:"search" binding:"omitempty,min=2,max=100"`
	Sort   string `form:"sort" binding:"omitempty,oneof=newest popular unanswered recentlyAnswered"`
}

type listOwnQuestionsQuery struct {
	Page           int  `form:"page" binding:"omitempty,min=1"`
	Limit          int  `form:"limit" binding:"omitempty,min=1,max=100"`
	IncludeAnswers bool `form:"includeAnswers"`
}

// fieldMessages overrides the generic message for namespace.tag pairs.
var fieldMessages = map[string]string{
	"registerRequest.email.email":       "Please provide a valid email address",
	"registerRequest.username.min":      "Username must be at least 3 characters long",
	"registerRequest.username.max":      "Username must not exceed 30 characters",
	"registerRequest.username.handle":   "Username can only contain letters, numbers, underscores, and hyphens",
	"registerRequest.password.min":      "Password must be at least 8 characters long",
	"registerRequest.password.max":      "Password must not exceed 100 characters",
	"registerRequest.password.password": "Password must contain at least one uppercase letter, one lowercase letter, and one number",
	"loginRequest.password.required":    "Password is required",
	"createQuestionRequest.title.min":   "Title must be at least 10 characters long",
	"createQuestionRequest.title.max":   "Title must not exceed 200 characters",
	"createQuestionRequest.content.min": "Content must be at least 30 characters long",
	"createQuestionRequest.content.max": "Content must not exceed 10000 characters",
	"createQuestionRequest.tags.max":    "You can add up to 5 tags only",
	"updateQuestionRequest.tags.max":    "You can add up to 5 tags only",
	"answerRequest.content.min":         "Answer must be at least 30 characters long",
	"answerRequest.content.max":         "Answer must not exceed 10000 characters",
	"voteRequest.value.required":        "Vote value must be -1 (downvote), 0 (remove vote), or 1 (upvote)",
	"voteRequest.value.oneof":           "Vote value must be -1 (downvote), 0 (remove vote), or 1 (upvote)",
	"updateUserRequest.username.handle": "Username can only contain letters, numbers, underscores, and hyphens",
	"listQuestionsQuery.sort.oneof":     "sort must be one of the following values: newest, popular, unanswered, recentlyAnswered",
}

// registerValidators installs the custom rules on gin's validator engine.
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		binding.EnableDecoderDisallowUnknownFields = true
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(fieldName)
		_ = engine.RegisterValidation("password", validatePassword)
		_ = engine.RegisterValidation("handle", validateHandle)
	})
}

func fieldName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}

// validatePassword requires a lowercase letter, an uppercase letter and a digit.
func validatePassword(fl validator.FieldLevel) bool {
	var lower, upper, digit bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

func validateHandle(fl validator.FieldLevel) bool {
	return handlePattern.MatchString(fl.Field().String())
}

func (h *httpHandler) bindJSON(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		h.writeEnvelope(c, http.StatusBadRequest, bindingMessages(err, messageInvalidBody))
		return false
	}
	return true
}

func (h *httpHandler) bindQuery(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindQuery(target); err != nil {
		h.writeEnvelope(c, http.StatusBadRequest, bindingMessages(err, messageInvalidQuery))
		return false
	}
	return true
}

// pathID returns a UUID path parameter or answers 400.
func (h *httpHandler) pathID(c *gin.Context, name string) (string, bool) {
	value := c.Param(name)
	if _, err := uuid.Parse(value); err != nil {
		h.writeEnvelope(c, http.StatusBadRequest, messageInvalidUUID)
		return "", false
	}
	return value, true
}

func bindingMessages(err error, fallback string) []string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			messages = append(messages, fieldMessage(fieldErr))
		}
		return messages
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return []string{fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type.Kind())}
	}
	return []string{fallback}
}

func fieldMessage(fieldErr validator.FieldError) string {
	if message, ok := fieldMessages[fieldErr.Namespace()+"."+fieldErr.Tag()]; ok {
		return message
	}
	field := fieldErr.Field()
	textual := fieldErr.Kind() == reflect.String
	switch fieldErr.Tag() {
	case "required":
		return field + " should not be empty"
	case "email":
		return field + " must be an email"
	case "min":
		if textual {
			return fmt.Sprintf("%s must be longer than or equal to %s characters", field, fieldErr.Param())
		}
		if fieldErr.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s elements", field, fieldErr.Param())
		}
		return fmt.Sprintf("%s must not be less than %s", field, fieldErr.Param())
	case "max":
		if textual {
			return fmt.Sprintf("%s must be shorter than or equal to %s characters", field, fieldErr.Param())
		}
		if fieldErr.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain no more than %s elements", field, fieldErr.Param())
		}
		return fmt.Sprintf("%s must not be greater than %s", field, fieldErr.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of the following values: %s", field, strings.ReplaceAll(fieldErr.Param(), " ", ", "))
	default:
		return field + " is invalid"
	}
}
