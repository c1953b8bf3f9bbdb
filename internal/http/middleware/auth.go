// README: Bearer-token auth middleware; the verified UID is the traveler ID.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"namma/internal/infra"
	"namma/internal/types"
)

const (
	ctxUID  = "caller_uid"
	ctxRole = "caller_role"
)

// Auth rejects requests without a verifiable "Authorization: Bearer <token>" header.
// Browsers cannot set headers on WebSocket upgrades, so a "token" query parameter
// is accepted for those.
func Auth(verifier infra.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && websocketUpgrade(c.Request) {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil || id == nil || id.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, id.UID)
		if role, ok := id.Claims["role"].(string); ok {
			c.Set(ctxRole, role)
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// CallerUID returns the authenticated caller, or "" outside Auth.
func CallerUID(c *gin.Context) types.ID {
	return types.ID(c.GetString(ctxUID))
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}
