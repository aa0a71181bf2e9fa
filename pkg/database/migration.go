package database

import (
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	// AutoRollback attempts to roll the database back to the previous
	// version when a migration fails partway
	AutoRollback bool
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) resolveMigrationFolder() string {
	migrationFolder := ms.config.MigrationFolderPath
	if _, err := os.Stat(migrationFolder); err == nil {
		return migrationFolder
	}
	workingDirectory, _ := os.Getwd()
	separator := ""
	if workingDirectory != "/" {
		separator = "/"
	}
	migrationFolder = workingDirectory + separator + migrationFolder
	return migrationFolder
}

func (ms *MigrationService) Migrate(databaseName string, databaseInstance database.Driver) error {
	migrationFolder := ms.resolveMigrationFolder()
	if _, err := os.Stat(migrationFolder); err != nil {
		return errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", migrationFolder))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationFolder, databaseName, databaseInstance)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}

	m.Log = MigrationLogger{Logger: ms.logger}

	return ms.runMigration(m)
}

func (ms *MigrationService) runMigration(m *migrate.Migrate) error {
	if ms.config.Force > 0 {
		ms.logger.WithField("version", ms.config.Force).Warn("Forcing migration version")
		return m.Force(ms.config.Force)
	}

	if ms.config.Version > 0 {
		err := m.Migrate(ms.config.Version)
		return ms.handleMigrationError(m, err)
	}

	err := m.Up()
	return ms.handleMigrationError(m, err)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error) error {
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		ms.logger.Info("Database migrations are up to date")
		return nil
	}

	ms.logger.WithError(err).Error("Migration failed")

	if ms.config.AutoRollback {
		version, _, verr := m.Version()
		if verr != nil {
			return errors.Wrap(err, "migration failed and current version could not be determined")
		}
		if version > 0 {
			ms.logger.WithField("version", version-1).Warn("Rolling back to previous migration version")
			if rerr := m.Migrate(version - 1); rerr != nil {
				return errors.Wrap(rerr, "rollback after failed migration also failed")
			}
		}
	}

	return err
}
