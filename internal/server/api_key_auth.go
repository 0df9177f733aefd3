package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/hostbill/internal/apikey/domain"
	obscontext "github.com/smallbiznis/hostbill/internal/observability/context"
)

type identityKey struct{}

// BearerAuthRequired resolves the Authorization bearer token to the caller's
// identity. Requests without a valid, unrevoked token are rejected with 401.
func (s *Server) BearerAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.apiKeySvc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			if errors.Is(err, apikeydomain.ErrUnauthorized) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			AbortWithError(c, err)
			return
		}
		if identity == nil || identity.UserID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		ctx = context.WithValue(ctx, identityKey{}, *identity)
		ctx = obscontext.WithActor(ctx, identity.UserID.String(), identity.Role)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func identityFromContext(ctx context.Context) (apikeydomain.Identity, bool) {
	if ctx == nil {
		return apikeydomain.Identity{}, false
	}
	identity, ok := ctx.Value(identityKey{}).(apikeydomain.Identity)
	if !ok || identity.UserID == 0 {
		return apikeydomain.Identity{}, false
	}
	return identity, true
}
