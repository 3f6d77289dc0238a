package db

import (
	"github.com/smallbiznis/fiscalsync/internal/config"
	obslogger "github.com/smallbiznis/fiscalsync/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("db",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	conn, err := Open(Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		MetricsEnabled:  cfg.MetricsEnabled,
	}, obslogger.NewGormLogger(obslogger.DefaultGormLoggerConfig()))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{OnStop: closeOnStop(log.Named("db"), conn)})
	return conn, nil
}
