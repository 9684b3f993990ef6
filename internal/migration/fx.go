package migration

import (
	"github.com/smallbiznis/reconciler/internal/config"
	orderdomain "github.com/smallbiznis/reconciler/internal/order/domain"
	"github.com/smallbiznis/reconciler/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		switch cfg.DBType {
		case db.TypePostgres:
		case db.TypeSQLite:
			// Local runs have no platform database to read orders from.
			log.Info("running gorm auto-migration with local orders table", zap.String("type", cfg.DBType))
			if err := AutoMigrate(conn); err != nil {
				return err
			}
			return conn.AutoMigrate(&orderdomain.Order{})
		default:
			log.Info("running gorm auto-migration", zap.String("type", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
