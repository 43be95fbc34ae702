package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"caption-api/internal/domain"
)

const identityKey = "identity"

// requireIdentity validates the bearer token and stores the caller's
// domain.Identity in the request context.
func (h *Handler) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}

		identity, err := h.users.Identify(c.Request.Context(), token)
		if err != nil {
			h.logger.WithError(err).WithField("path", c.Request.URL.Path).Debug("bearer token rejected")
			unauthorized(c)
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) (domain.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "could not validate user"})
}
