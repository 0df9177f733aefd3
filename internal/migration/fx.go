package migration

import (
	"strings"

	"github.com/smallbiznis/hostbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migrations")
		if dbType := strings.ToLower(strings.TrimSpace(cfg.DBType)); dbType != "" && dbType != "postgres" {
			log.Info("skipping embedded migrations", zap.String("db_type", dbType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		_, err = RunMigrations(sqlDB, log)
		return err
	}),
)
