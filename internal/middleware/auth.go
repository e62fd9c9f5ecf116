package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-checkin-api/internal/models"
	"github.com/noah-isme/classroom-checkin-api/internal/service"
	appErrors "github.com/noah-isme/classroom-checkin-api/pkg/errors"
	"github.com/noah-isme/classroom-checkin-api/pkg/response"
)

// ContextIdentityKey is the gin context key storing the verified identity.
const ContextIdentityKey = "currentIdentity"

// Identity verifies a bearer token when one is sent and stores the resulting
// identity. Requests without an Authorization header pass through anonymous;
// malformed or rejected tokens abort with 401.
func Identity(verifier service.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by Identity, if any.
func IdentityFromContext(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	identity, ok := value.(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}
