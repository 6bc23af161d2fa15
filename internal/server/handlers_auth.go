package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/gin-gonic/gin"
)

type loginResponsePayload struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   int64           `json:"expires_in"`
	TokenType   string          `json:"token_type"`
	User        models.UserView `json:"user"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequest
	if !h.bindJSON(c, &request) {
		return
	}
	user, err := h.users.Create(c.Request.Context(), users.CreateInput{
		Email:    request.Email,
		Username: request.Username,
		Password: request.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewUserView(user))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequest
	if !h.bindJSON(c, &request) {
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(auth.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.setTokenCookie(c, token, int(h.tokens.TTL().Seconds()))
	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        models.NewUserView(user),
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.setTokenCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMe(c *gin.Context) {
	user, err := h.users.FindOne(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewUserView(user))
}

func (h *httpHandler) setTokenCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
