package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opApplyDelta    = "scoring.apply_delta"
	opRankingInputs = "scoring.ranking_inputs"
	opRebuild       = "scoring.rebuild"

	columnUpvotes   = "upvotes"
	columnDownvotes = "downvotes"
	columnScore     = "score"
	columnHotScore  = "hot_score"
	queryByID       = "id = ?"
)

var errMissingDatabase = errors.New("scoring: database handle is required")

// StoreConfig wires the score store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store maintains counters and derived scores on the posts and comments tables.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore validates dependencies and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

type tallyRow struct {
	ID        string    `gorm:"column:id"`
	Upvotes   int64     `gorm:"column:upvotes"`
	Downvotes int64     `gorm:"column:downvotes"`
	Score     int64     `gorm:"column:score"`
	HotScore  float64   `gorm:"column:hot_score"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// ApplyDelta adds the delta to the entity's counters inside tx, clamping each counter at
// zero, and recomputes score and (for posts) hot score. The caller owns the transaction.
func (s *Store) ApplyDelta(tx *gorm.DB, ref EntityRef, delta Delta) (Tally, error) {
	if err := ref.Validate(); err != nil {
		return Tally{}, err
	}
	if err := delta.Validate(); err != nil {
		return Tally{}, err
	}
	if tx == nil {
		return Tally{}, errMissingDatabase
	}

	result := tx.Table(ref.Kind.Table()).
		Where(queryByID, ref.ID).
		UpdateColumns(map[string]any{
			columnUpvotes:   gorm.Expr(clampedSum(columnUpvotes), delta.Upvotes, delta.Upvotes),
			columnDownvotes: gorm.Expr(clampedSum(columnDownvotes), delta.Downvotes, delta.Downvotes),
			columnScore: gorm.Expr(
				clampedSum(columnUpvotes)+" - "+clampedSum(columnDownvotes),
				delta.Upvotes, delta.Upvotes, delta.Downvotes, delta.Downvotes,
			),
		})
	if result.Error != nil {
		s.logError(opApplyDelta, "counter_update_failed", result.Error, refFields(ref)...)
		return Tally{}, fmt.Errorf("%s: %w", opApplyDelta, result.Error)
	}
	if result.RowsAffected == 0 {
		return Tally{}, fmt.Errorf("%w: %s %s", ErrEntityNotFound, ref.Kind, ref.ID)
	}

	row, err := loadTally(tx, ref)
	if err != nil {
		s.logError(opApplyDelta, "tally_reload_failed", err, refFields(ref)...)
		return Tally{}, err
	}
	return s.refreshHotScore(tx, ref, row, opApplyDelta)
}

// Rebuild overwrites the entity's counters with counts recomputed from vote rows.
func (s *Store) Rebuild(tx *gorm.DB, ref EntityRef, counts Counts) (Tally, error) {
	if err := ref.Validate(); err != nil {
		return Tally{}, err
	}
	if tx == nil {
		return Tally{}, errMissingDatabase
	}
	counts = ApplyCounts(counts, Delta{})
	result := tx.Table(ref.Kind.Table()).
		Where(queryByID, ref.ID).
		UpdateColumns(map[string]any{
			columnUpvotes:   counts.Upvotes,
			columnDownvotes: counts.Downvotes,
			columnScore:     counts.Score(),
		})
	if result.Error != nil {
		s.logError(opRebuild, "counter_update_failed", result.Error, refFields(ref)...)
		return Tally{}, fmt.Errorf("%s: %w", opRebuild, result.Error)
	}
	if result.RowsAffected == 0 {
		return Tally{}, fmt.Errorf("%w: %s %s", ErrEntityNotFound, ref.Kind, ref.ID)
	}
	row, err := loadTally(tx, ref)
	if err != nil {
		return Tally{}, err
	}
	return s.refreshHotScore(tx, ref, row, opRebuild)
}

// RankingInputs exposes the current counters, scores and creation time of an entity.
func (s *Store) RankingInputs(ctx context.Context, ref EntityRef) (Tally, error) {
	if err := ref.Validate(); err != nil {
		return Tally{}, err
	}
	if s.db == nil {
		return Tally{}, errMissingDatabase
	}
	row, err := loadTally(s.db.WithContext(ctx), ref)
	if err != nil {
		if !errors.Is(err, ErrEntityNotFound) {
			s.logError(opRankingInputs, "query_failed", err, refFields(ref)...)
		}
		return Tally{}, err
	}
	return toTally(ref, row), nil
}

// Exists reports whether the entity row is present, reading through tx.
func (s *Store) Exists(tx *gorm.DB, ref EntityRef) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	if tx == nil {
		return false, errMissingDatabase
	}
	var count int64
	if err := tx.Table(ref.Kind.Table()).Where(queryByID, ref.ID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) refreshHotScore(tx *gorm.DB, ref EntityRef, row tallyRow, operation string) (Tally, error) {
	if ref.Kind.HasHotScore() {
		row.HotScore = HotScore(row.Score, row.CreatedAt)
		if err := tx.Table(ref.Kind.Table()).
			Where(queryByID, ref.ID).
			UpdateColumn(columnHotScore, row.HotScore).Error; err != nil {
			s.logError(operation, "hot_score_update_failed", err, refFields(ref)...)
			return Tally{}, fmt.Errorf("%s: %w", operation, err)
		}
	}
	return toTally(ref, row), nil
}

func loadTally(db *gorm.DB, ref EntityRef) (tallyRow, error) {
	columns := []string{"id", columnUpvotes, columnDownvotes, columnScore, "created_at"}
	if ref.Kind.HasHotScore() {
		columns = append(columns, columnHotScore)
	}
	var row tallyRow
	err := db.Table(ref.Kind.Table()).
		Select(columns).
		Where(queryByID, ref.ID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tallyRow{}, fmt.Errorf("%w: %s %s", ErrEntityNotFound, ref.Kind, ref.ID)
	}
	if err != nil {
		return tallyRow{}, err
	}
	return row, nil
}

func toTally(ref EntityRef, row tallyRow) Tally {
	tally := Tally{
		Kind:      ref.Kind,
		ID:        ref.ID,
		Upvotes:   row.Upvotes,
		Downvotes: row.Downvotes,
		Score:     row.Score,
		CreatedAt: row.CreatedAt.UTC(),
	}
	if ref.Kind.HasHotScore() {
		hotScore := row.HotScore
		tally.HotScore = &hotScore
	}
	return tally
}

// clampedSum mirrors ApplyCounts in SQL; both placeholders take the same delta.
func clampedSum(column string) string {
	return "(CASE WHEN " + column + " + ? < 0 THEN 0 ELSE " + column + " + ? END)"
}

func refFields(ref EntityRef) []zap.Field {
	return []zap.Field{
		zap.String("entity_kind", string(ref.Kind)),
		zap.String("entity_id", ref.ID),
	}
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("score store error", attrs...)
}
