package tenant

import (
	"github.com/smallbiznis/tally/internal/tenant/provision"
	"github.com/smallbiznis/tally/internal/tenant/repository"
	"github.com/smallbiznis/tally/internal/tenant/router"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant",
	fx.Provide(repository.Provide),
	fx.Provide(router.New),
	fx.Provide(provision.New),
)
