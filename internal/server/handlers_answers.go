package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleCreateAnswer(c *gin.Context) {
	questionID, ok := h.pathID(c, "questionId")
	if !ok {
		return
	}
	var request answerRequest
	if !h.bindJSON(c, &request) {
		return
	}
	view, err := h.answers.Create(c.Request.Context(), questionID, request.Content, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleListAnswers(c *gin.Context) {
	questionID, ok := h.pathID(c, "questionId")
	if !ok {
		return
	}
	views, err := h.answers.FindByQuestion(c.Request.Context(), questionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGetAnswer(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.answers.FindOne(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleUpdateAnswer(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var request answerRequest
	if !h.bindJSON(c, &request) {
		return
	}
	view, err := h.answers.Update(c.Request.Context(), id, request.Content, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleVoteAnswer(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var request voteRequest
	if !h.bindJSON(c, &request) {
		return
	}
	view, err := h.answers.Vote(c.Request.Context(), id, *request.Value, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleAcceptAnswer(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.answers.MarkAsAccepted(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteAnswer(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.answers.Remove(c.Request.Context(), id, currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
