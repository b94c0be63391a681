package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"boutique-loyalty/internal/server"
	"boutique-loyalty/pkg/config"
	"boutique-loyalty/pkg/db"
	"boutique-loyalty/pkg/health"
	"boutique-loyalty/pkg/logger"
	"boutique-loyalty/pkg/redis"
	"boutique-loyalty/services/ledger"
	"boutique-loyalty/services/loyalty"
	"boutique-loyalty/services/reward"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		fx.Invoke(registerDBPlugins, autoMigrate),
		ledger.Module,
		reward.Module,
		loyalty.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func registerDBPlugins(conn *gorm.DB, cfg *config.Config) error {
	if err := db.Otel(conn); err != nil {
		return err
	}
	return db.Metric(conn, cfg.Database.DBNAME)
}

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&ledger.User{},
		&ledger.Entry{},
		&reward.Reward{},
		&reward.UserReward{},
	)
}
