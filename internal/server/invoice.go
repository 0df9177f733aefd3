package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	apikeydomain "github.com/smallbiznis/hostbill/internal/apikey/domain"
	invoicedomain "github.com/smallbiznis/hostbill/internal/invoice/domain"
)

type calculateInvoiceLineItem struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type calculateInvoiceRequest struct {
	OwnerID        string                     `json:"owner_id"`
	SubscriptionID string                     `json:"subscription_id"`
	LineItems      []calculateInvoiceLineItem `json:"line_items"`
	DiscountCode   string                     `json:"discount_code"`
	TaxRate        *decimal.Decimal           `json:"tax_rate"`
	Currency       string                     `json:"currency"`
}

func (s *Server) CalculateInvoice(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req calculateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ownerID := identity.UserID
	if requested, err := parseOptionalSnowflakeID(req.OwnerID); err != nil {
		AbortWithError(c, newValidationError("owner_id", "invalid_owner_id", "invalid owner_id"))
		return
	} else if requested != nil && *requested != ownerID {
		// Only admins bill on behalf of another account.
		if !isAdmin(identity) {
			AbortWithError(c, ErrForbidden)
			return
		}
		ownerID = *requested
	}

	subscriptionID, err := parseOptionalSnowflakeID(req.SubscriptionID)
	if err != nil {
		AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription_id"))
		return
	}

	items := make([]invoicedomain.LineItem, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		items = append(items, invoicedomain.LineItem{
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	result, err := s.invoiceSvc.CalculateInvoice(c.Request.Context(), invoicedomain.CalculateRequest{
		OwnerID:        ownerID,
		SubscriptionID: subscriptionID,
		LineItems:      items,
		DiscountCode:   strings.TrimSpace(req.DiscountCode),
		TaxRate:        req.TaxRate,
		Currency:       strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"invoice":          result.Invoice,
		"discount_applied": result.DiscountApplied,
	})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseSnowflakeParam(c.Param("id"), "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !canViewInvoice(identity, item) {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "invoice": item})
}

func (s *Server) RenderInvoicePDF(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseSnowflakeParam(c.Param("id"), "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, document, err := s.invoiceSvc.RenderPDF(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !canViewInvoice(identity, item) {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, item.Number))
	c.Data(http.StatusOK, "application/pdf", document)
}

// canViewInvoice hides other accounts' invoices behind a 404.
func canViewInvoice(identity apikeydomain.Identity, item *invoicedomain.Invoice) bool {
	if item == nil {
		return false
	}
	return isAdmin(identity) || item.OwnerID == identity.UserID
}
