package db

import (
	"context"
	"time"

	"github.com/smallbiznis/clientbilling/internal/config"
	"github.com/smallbiznis/clientbilling/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(ConfigFromApp),
	fx.Provide(Open),
)

// Open connects to the configured database, installs tracing and metrics
// plugins and closes the pool when the app stops.
func Open(lc fx.Lifecycle, cfg Config, appCfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gormLogCfg := logger.DefaultGormLoggerConfig()
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLogger(log, gormLogCfg),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := db.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Name))); err != nil {
		return nil, err
	}

	if cfg.MetricsEnabled {
		promCfg := gormprometheus.Config{
			DBName:          cfg.Name,
			RefreshInterval: 15,
			Labels: map[string]string{
				"service": appCfg.AppName,
				"env":     appCfg.Environment,
			},
		}
		if cfg.Type == "mysql" {
			promCfg.MetricsCollector = []gormprometheus.MetricsCollector{
				&gormprometheus.MySQL{VariableNames: []string{"Threads_running"}},
			}
		}
		if err := db.Use(gormprometheus.New(promCfg)); err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}

	if lc != nil {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return sqlDB.PingContext(ctx)
			},
			OnStop: func(context.Context) error {
				log.Info("closing database pool")
				return sqlDB.Close()
			},
		})
	}

	log.Info("database connected", zap.String("type", cfg.Type), zap.String("name", cfg.Name))
	return db, nil
}
