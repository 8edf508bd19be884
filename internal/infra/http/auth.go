package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// requireWrite gates the mutating endpoints. In admin_key mode callers must
// present the shared X-Admin-Key header; in none mode writes are open, which
// is only appropriate behind a trusted gateway.
func (s *Server) requireWrite(c *gin.Context) bool {
	if s.cfg.AuthMode == "none" {
		return true
	}
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "admin key not configured")
		return false
	}
	key := strings.TrimSpace(c.GetHeader("X-Admin-Key"))
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}
