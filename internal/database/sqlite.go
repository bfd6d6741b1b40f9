package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/cloud"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/localstore"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite opens the binder API database and brings its schema up to date.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&cloud.BinderRecord{}, &users.Identity{}, &migrationRecord{}); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, serverMigrations(), logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("path", path), zap.String("role", "server"))
	}
	return db, nil
}

// OpenLocalSQLite opens the binderctl snapshot database.
func OpenLocalSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&localstore.BinderRow{}, &localstore.StateRow{}, &migrationRecord{}); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, localMigrations(), logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("path", path), zap.String("role", "local"))
	}
	return db, nil
}

func open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
