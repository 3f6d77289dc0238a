package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/fiscalsync/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.AutoMigrate {
			log.Info("database auto-migration disabled")
			return nil
		}
		if err := Run(conn); err != nil {
			return err
		}
		log.Info("database schema up to date", zap.String("dialect", cfg.DBType))
		return nil
	}),
)
