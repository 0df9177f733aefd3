package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	payoutdomain "github.com/smallbiznis/hostbill/internal/payout/domain"
	"github.com/smallbiznis/hostbill/pkg/db/pagination"
)

const (
	payoutActionRequest = "request"
	payoutActionApprove = "approve"
	payoutActionProcess = "process"
	payoutActionReject  = "reject"
)

type payoutActionRequestBody struct {
	Action        string           `json:"action"`
	PayoutID      string           `json:"payout_id"`
	Amount        *decimal.Decimal `json:"amount"`
	Currency      string           `json:"currency"`
	PayoutMethod  string           `json:"payout_method"`
	PayoutDetails map[string]any   `json:"payout_details"`
	Reason        string           `json:"reason"`
}

type listPayoutsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	ResellerID string `form:"reseller_id"`
	Status     string `form:"status"`
}

// HandlePayoutAction dispatches the single payouts endpoint on body.action.
func (s *Server) HandlePayoutAction(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req payoutActionRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	actor := payoutActor(identity)
	action := strings.ToLower(strings.TrimSpace(req.Action))

	var (
		payout *payoutdomain.Payout
		err    error
	)
	switch action {
	case payoutActionRequest:
		if req.Amount == nil {
			AbortWithError(c, newValidationError("amount", "invalid_amount", "amount is required"))
			return
		}
		payout, err = s.payoutSvc.Request(ctx, actor, payoutdomain.RequestPayout{
			Amount:   *req.Amount,
			Currency: req.Currency,
			Method:   req.PayoutMethod,
			Details:  req.PayoutDetails,
		})
	case payoutActionApprove, payoutActionProcess, payoutActionReject:
		id, parseErr := parseSnowflakeParam(req.PayoutID, "payout_id")
		if parseErr != nil {
			AbortWithError(c, parseErr)
			return
		}
		payout, err = s.applyPayoutTransition(c, actor, action, id, req.Reason)
	default:
		AbortWithError(c, newValidationError("action", "invalid_action", "action must be one of request, approve, process, reject"))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if action == payoutActionRequest {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "payout": payout})
}

func (s *Server) applyPayoutTransition(c *gin.Context, actor payoutdomain.Actor, action string, id snowflake.ID, reason string) (*payoutdomain.Payout, error) {
	ctx := c.Request.Context()
	switch action {
	case payoutActionApprove:
		return s.payoutSvc.Approve(ctx, actor, id)
	case payoutActionProcess:
		return s.payoutSvc.Process(ctx, actor, id)
	default:
		return s.payoutSvc.Reject(ctx, actor, id, reason)
	}
}

func (s *Server) ListPayouts(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listPayoutsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resellerID, err := parseOptionalSnowflakeID(query.ResellerID)
	if err != nil {
		AbortWithError(c, newValidationError("reseller_id", "invalid_reseller_id", "invalid reseller_id"))
		return
	}

	resp, err := s.payoutSvc.List(c.Request.Context(), payoutActor(identity), payoutdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		ResellerID: resellerID,
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.Payouts, "page_info": resp.PageInfo})
}
