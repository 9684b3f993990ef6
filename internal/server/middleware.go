package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/reconciler/internal/authorization"
)

const contextPrincipalKey = "admin_principal"

// AdminRequired authenticates admin API keys sent as a bearer token.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.keyRing.Authenticate(parts[1])
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextPrincipalKey, principal)
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (authorization.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return authorization.Principal{}, false
	}
	principal, ok := value.(authorization.Principal)
	return principal, ok
}
