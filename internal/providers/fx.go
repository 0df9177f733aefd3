package providers

import (
	"github.com/smallbiznis/hostbill/internal/providers/email"
	"github.com/smallbiznis/hostbill/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
