package discount

import (
	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("discount",
	fx.Provide(NewResolver),
)

// NewResolver prefers operator-managed codes in the database and falls back
// to the billing config table.
func NewResolver(db *gorm.DB, clk clock.Clock, holder *config.BillingConfigHolder) Resolver {
	return Chain{
		NewDBResolver(db, clk),
		NewConfigResolver(holder),
	}
}
