package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// TokenFromRequest finds an access token in the Authorization header, then the
// named cookie, then the token query parameter when allowQuery is set.
func TokenFromRequest(r *http.Request, cookieName string, allowQuery bool) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			if token := strings.TrimSpace(header[len(bearerPrefix):]); token != "" {
				return token
			}
		}
	}
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil && cookie != nil {
			if token := strings.TrimSpace(cookie.Value); token != "" {
				return token
			}
		}
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}
