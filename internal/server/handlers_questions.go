package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/questions"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListQuestions(c *gin.Context) {
	var query listQuestionsQuery
	if !h.bindQuery(c, &query) {
		return
	}
	sort, _ := questions.ParseSort(query.Sort)
	page, err := h.questions.FindAll(c.Request.Context(), questions.ListQuery{
		Page:   query.Page,
		Limit:  query.Limit,
		Search: query.Search,
		Sort:   sort,
	}, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleListOwnQuestions(c *gin.Context) {
	var query listOwnQuestionsQuery
	if !h.bindQuery(c, &query) {
		return
	}
	page, err := h.questions.FindByUser(c.Request.Context(), currentUserID(c), questions.UserListQuery{
		Page:           query.Page,
		Limit:          query.Limit,
		IncludeAnswers: query.IncludeAnswers,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleGetQuestion(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.questions.FindOne(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleCreateQuestion(c *gin.Context) {
	var request createQuestionRequest
	if !h.bindJSON(c, &request) {
		return
	}
	view, err := h.questions.Create(c.Request.Context(), questions.CreateInput{
		Title:   request.Title,
		Content: request.Content,
		Tags:    request.Tags,
	}, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleUpdateQuestion(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var request updateQuestionRequest
	if !h.bindJSON(c, &request) {
		return
	}
	view, err := h.questions.Update(c.Request.Context(), id, questions.UpdateInput{
		Title:   request.Title,
		Content: request.Content,
		Tags:    request.Tags,
	}, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleVoteQuestion(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var request voteRequest
	if !h.bindJSON(c, &request) {
		return
	}
	view, err := h.questions.Vote(c.Request.Context(), id, *request.Value, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteQuestion(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.questions.Remove(c.Request.Context(), id, currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
