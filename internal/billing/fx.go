package billing

import (
	"github.com/smallbiznis/tally/internal/billing/repository"
	"github.com/smallbiznis/tally/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
