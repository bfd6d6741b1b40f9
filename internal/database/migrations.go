package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/cloud"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/localstore"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	migrationUpgradeRemoteBinderPayloads = "2026-10-01_upgrade_remote_binder_payloads"
	migrationUpgradeLocalBinderPayloads  = "2026-10-01_upgrade_local_binder_payloads"
	migrationBatchSize                   = 200
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) (int, error)
}

func serverMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationUpgradeRemoteBinderPayloads, apply: upgradeRemoteBinderPayloads},
	}
}

func localMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationUpgradeLocalBinderPayloads, apply: upgradeLocalBinderPayloads},
	}
}

func applyMigrations(db *gorm.DB, migrations []migrationDefinition, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		rewritten, err := migration.apply(db)
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name), zap.Int("rows", rewritten))
		}
	}
	return nil
}

// upgradeRemoteBinderPayloads rewrites stored binders written before the
// position-keyed card map into the current schema.
func upgradeRemoteBinderPayloads(db *gorm.DB) (int, error) {
	rewritten := 0
	var records []cloud.BinderRecord
	err := db.Where("schema_version < ?", binders.CurrentSchemaVersion).
		FindInBatches(&records, migrationBatchSize, func(tx *gorm.DB, _ int) error {
			for _, record := range records {
				doc, migrated, err := binders.Decode(record.Payload)
				if err != nil || !migrated {
					continue
				}
				payload, err := binders.Encode(doc)
				if err != nil {
					return err
				}
				err = tx.Model(&cloud.BinderRecord{}).
					Where("document_key = ?", record.DocumentKey).
					Updates(map[string]interface{}{
						"schema_version": binders.CurrentSchemaVersion,
						"payload":        datatypes.JSON(payload),
					}).Error
				if err != nil {
					return err
				}
				rewritten++
			}
			return nil
		}).Error
	return rewritten, err
}

// upgradeLocalBinderPayloads rewrites every local binder whose payload still
// decodes through a legacy schema.
func upgradeLocalBinderPayloads(db *gorm.DB) (int, error) {
	rewritten := 0
	var rows []localstore.BinderRow
	err := db.FindInBatches(&rows, migrationBatchSize, func(tx *gorm.DB, _ int) error {
		for _, row := range rows {
			doc, migrated, err := binders.Decode(row.Payload)
			if err != nil || !migrated {
				continue
			}
			payload, err := binders.Encode(doc)
			if err != nil {
				return err
			}
			err = tx.Model(&localstore.BinderRow{}).
				Where("binder_id = ?", row.BinderID).
				Update("payload", datatypes.JSON(payload)).Error
			if err != nil {
				return err
			}
			rewritten++
		}
		return nil
	}).Error
	return rewritten, err
}
