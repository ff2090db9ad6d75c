package membership

import (
	"github.com/smallbiznis/fitdesk/internal/membership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("membership",
	fx.Provide(service.New),
)
