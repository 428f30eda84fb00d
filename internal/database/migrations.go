package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/content"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRecomputePostHotScores = "2026-06-01_recompute_post_hot_scores"

	hotScoreBatchSize = 500
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
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations := []migrationDefinition{
		{name: migrationRecomputePostHotScores, apply: recomputePostHotScores},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// recomputePostHotScores rewrites hot_score from score and created_at so rows written
// before the ranking column existed sort correctly.
func recomputePostHotScores(db *gorm.DB) error {
	var batch []content.Post
	return db.Model(&content.Post{}).
		Select("id", "score", "created_at").
		FindInBatches(&batch, hotScoreBatchSize, func(tx *gorm.DB, _ int) error {
			for _, post := range batch {
				hot := scoring.HotScore(post.Score, post.CreatedAt)
				if err := db.Model(&content.Post{}).Where("id = ?", post.ID).UpdateColumn("hot_score", hot).Error; err != nil {
					return err
				}
			}
			return nil
		}).Error
}
