package email

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/fiscalsync/internal/config"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	log = log.Named("providers.email")
	switch cfg.Email.Provider {
	case config.EmailProviderPostmark:
		log.Info("email provider selected", zap.String("provider", "postmark"))
		return NewPostmark(PostmarkConfig{
			Token:    cfg.Email.PostmarkToken,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
		})
	case config.EmailProviderNoop:
		log.Warn("email delivery disabled")
		return &NoOpProvider{}
	default:
		log.Info("email provider selected",
			zap.String("provider", "smtp"),
			zap.String("host", cfg.Email.SMTPHost),
			zap.Int("port", cfg.Email.SMTPPort),
		)
		return NewSMTP(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
		})
	}
}
