// Package db opens the database connection the Continuation Store
// runs on, grounded on the teacher's internal/db.PostgresService.
// SPEC_FULL.md §3 calls out an embedded/local profile backed by
// sqlite alongside the default Postgres profile; DB_DRIVER picks
// between them, both yielding the same *gorm.DB shape.
package db

import (
	"fmt"
	stdlog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/stackrun/internal/domain"
	"github.com/yungbote/stackrun/internal/platform/envutil"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService opens the engine's database connection per
// DB_DRIVER (default "postgres"; "sqlite" selects the embedded/local
// profile). The name is kept for compatibility with the rest of the
// app package even though it now covers both drivers.
func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	driver := envutil.GetEnv("DB_DRIVER", "postgres", log)

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var conn *gorm.DB
	var err error

	switch driver {
	case "sqlite":
		path := envutil.GetEnv("SQLITE_PATH", "./stackrun.db", log)
		log.Info("connecting to sqlite (embedded/local profile)", "path", path)
		conn, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLog,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to sqlite: %w", err)
		}
	case "postgres":
		host := envutil.GetEnv("POSTGRES_HOST", "localhost", log)
		port := envutil.GetEnv("POSTGRES_PORT", "5432", log)
		user := envutil.GetEnv("POSTGRES_USER", "postgres", log)
		password := envutil.GetEnv("POSTGRES_PASSWORD", "", log)
		name := envutil.GetEnv("POSTGRES_NAME", "stackrun", log)

		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			user, password, host, port, name,
		)

		log.Info("connecting to postgres")
		conn, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLog,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		if err := conn.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`).Error; err != nil {
			return nil, fmt.Errorf("enable pgcrypto extension: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q (want \"postgres\" or \"sqlite\")", driver)
	}

	return &PostgresService{db: conn, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

// AutoMigrateAll creates task_runs and stack_runs if they don't exist.
// Status-transition enforcement lives in internal/store, not here — a
// migration only needs the shape of the tables, not their invariants.
func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("auto migrating tables")
	return s.db.AutoMigrate(&domain.TaskRun{}, &domain.StackRun{})
}
