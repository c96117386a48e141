package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"parking-status-backend/config"
	"parking-status-backend/internal/model"
)

// Open connects to Postgres or SQLite depending on the DSN and applies pool settings.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(Dialector(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	return db, nil
}

// Init opens the database and runs migrations.
func Init(cfg *config.DatabaseConfig, log *zerolog.Logger) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, cfg, log); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(db *gorm.DB, cfg *config.DatabaseConfig, log *zerolog.Logger) error {
	log.Info().Msg("running database migrations")
	if err := db.AutoMigrate(
		&model.Slot{},
		&model.Reservation{},
		&model.WaitlistEntry{},
		&model.UsageLog{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	if cfg.EnableExclusion {
		if db.Dialector.Name() != "postgres" {
			log.Warn().Str("dialect", db.Dialector.Name()).Msg("exclusion constraint requires postgres, skipping")
		} else if err := applyExclusionDDL(db); err != nil {
			log.Warn().Err(err).Msg("failed to apply reservation exclusion constraint, relying on row locks only")
		}
	}

	log.Info().Msg("database initialization complete")
	return nil
}

// Dialector picks the driver from the DSN shape.
func Dialector(dsn string) gorm.Dialector {
	if isPostgres(dsn) {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

func isPostgres(dsn string) bool {
	d := strings.TrimSpace(dsn)
	return strings.HasPrefix(d, "postgres://") ||
		strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=")
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func applyExclusionDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS btree_gist;",

		"ALTER TABLE reservations DROP CONSTRAINT IF EXISTS reservations_window_valid;",
		"ALTER TABLE reservations " +
			"ADD CONSTRAINT reservations_window_valid CHECK (starts_at < ends_at);",

		// Half-open windows: touching reservations do not collide.
		"ALTER TABLE reservations DROP CONSTRAINT IF EXISTS reservations_no_overlap;",
		"ALTER TABLE reservations ADD CONSTRAINT reservations_no_overlap " +
			"EXCLUDE USING GIST (slot_id WITH =, tstzrange(starts_at, ends_at, '[)') WITH &&) " +
			"WHERE (status IN ('pending', 'active', 'in_use'));",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
