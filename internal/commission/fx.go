package commission

import (
	"github.com/smallbiznis/hostbill/internal/commission/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("commission.repository",
	fx.Provide(repository.Provide),
)
