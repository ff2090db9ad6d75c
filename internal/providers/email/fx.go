package email

import (
	"github.com/smallbiznis/fitdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	switch cfg.Email.Provider {
	case "smtp":
		return NewSMTP(Config{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		})
	case "resend":
		if cfg.Email.ResendAPIKey != "" {
			return NewResend(cfg.Email.ResendAPIKey, cfg.Email.From)
		}
		log.Warn("RESEND_API_KEY is empty, reminders will not be delivered")
	}
	return &NoOpProvider{}
}
