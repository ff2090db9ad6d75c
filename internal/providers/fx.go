package providers

import (
	"github.com/smallbiznis/fitdesk/internal/providers/email"
	"github.com/smallbiznis/fitdesk/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
