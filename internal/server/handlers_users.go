package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListUsers(c *gin.Context) {
	found, err := h.users.FindAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]models.UserView, 0, len(found))
	for _, user := range found {
		views = append(views, models.NewUserView(user))
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	user, err := h.users.FindOne(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewUserView(user))
}

func (h *httpHandler) handleGetUserByUsername(c *gin.Context) {
	user, err := h.users.FindByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewUserView(user))
}

func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var request updateUserRequest
	if !h.bindJSON(c, &request) {
		return
	}
	user, err := h.users.Update(c.Request.Context(), id, users.UpdateInput{
		Username: request.Username,
		Bio:      request.Bio,
		Avatar:   request.Avatar,
	}, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewUserView(user))
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.users.Remove(c.Request.Context(), id, currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
