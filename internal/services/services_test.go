package services

import (
	"io"
	"path/filepath"
	"purchase-sync/internal/config"
	"purchase-sync/internal/database"
	"purchase-sync/pkg/logging"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupDB points the database package at a fresh sqlite file.
func setupDB(t *testing.T) {
	t.Helper()
	logging.InitLoggingWithOutput(io.Discard, io.Discard, false)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Setup(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
}

// setupConfig installs a server config for the duration of the test.
func setupConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	previous := config.AppConfig
	config.AppConfig = cfg
	t.Cleanup(func() { config.AppConfig = previous })
}
