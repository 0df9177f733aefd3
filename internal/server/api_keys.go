package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// IssueAPIToken mints a bearer token for a user. The raw token is only
// returned here.
func (s *Server) IssueAPIToken(c *gin.Context) {
	userID, err := parseSnowflakeParam(c.Param("id"), "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.apiKeySvc.Issue(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && resp != nil {
		targetID := resp.TokenID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "api_token.issued", "api_token", &targetID, map[string]any{
			"user_id": userID.String(),
		})
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "token": resp})
}

func (s *Server) RevokeAPIToken(c *gin.Context) {
	tokenID, err := parseSnowflakeParam(c.Param("id"), "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.apiKeySvc.Revoke(c.Request.Context(), tokenID); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := tokenID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "api_token.revoked", "api_token", &targetID, nil)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
