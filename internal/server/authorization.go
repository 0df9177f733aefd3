package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/hostbill/internal/apikey/domain"
	"github.com/smallbiznis/hostbill/internal/authorization"
	payoutdomain "github.com/smallbiznis/hostbill/internal/payout/domain"
)

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeActionWithContext(c *gin.Context, object string, action string) error {
	identity, ok := s.identity(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), identity.UserID.String(), identity.Role, strings.TrimSpace(object), strings.TrimSpace(action))
}

func (s *Server) identity(c *gin.Context) (apikeydomain.Identity, bool) {
	if c == nil || c.Request == nil {
		return apikeydomain.Identity{}, false
	}
	return identityFromContext(c.Request.Context())
}

func payoutActor(identity apikeydomain.Identity) payoutdomain.Actor {
	return payoutdomain.Actor{ID: identity.UserID, Role: identity.Role}
}

func isAdmin(identity apikeydomain.Identity) bool {
	return strings.EqualFold(identity.Role, authorization.RoleAdmin)
}
