package voting

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingScoreStore = errors.New("score store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew   = "voting.service.new"
	opNewTarget    = "voting.new_target"
	opResolveVoter = "voting.resolve_voter"
	opCastVote     = "voting.cast_vote"
	opGetVote      = "voting.get_vote"
	opRecount      = "voting.recount"

	maxCastAttempts = 2
)

// ScoreEvent is published after a cast commits.
type ScoreEvent struct {
	Target     Target
	Outcome    Outcome
	Tally      scoring.Tally
	OccurredAt time.Time
}

// Publisher receives committed score changes, e.g. the realtime dispatcher.
type Publisher interface {
	PublishScore(event ScoreEvent)
}

// Recorder receives ledger measurements, e.g. the Prometheus vote metrics.
type Recorder interface {
	ObserveCast(targetKind string, outcome string, duration time.Duration)
	IncConflictRetry(targetKind string)
	IncFailure(targetKind string, kind string)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Scores     *scoring.Store
	Clock      clockwork.Clock
	IDProvider IDProvider
	Publisher  Publisher
	Metrics    Recorder
	Logger     *zap.Logger
}

// Service is the vote ledger: the only writer of vote rows and of the counters they project to.
type Service struct {
	db         *gorm.DB
	scores     *scoring.Store
	clock      clockwork.Clock
	idProvider IDProvider
	publisher  Publisher
	metrics    Recorder
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", KindInternal, "", errMissingDatabase)
	}
	if cfg.Scores == nil {
		return nil, newServiceError(opServiceNew, "missing_score_store", KindInternal, "", errMissingScoreStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", KindInternal, "", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		scores:     cfg.Scores,
		clock:      clock,
		idProvider: cfg.IDProvider,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// ResolveVoter turns the two optional identity sources into exactly one voter.
func ResolveVoter(userID, anonymousID string) (identity.Identity, error) {
	voter, err := identity.FromParts(userID, anonymousID)
	switch {
	case err == nil:
		return voter, nil
	case errors.Is(err, identity.ErrMissingIdentity):
		return identity.Identity{}, newInvalidInputError(opResolveVoter, "missing_voter", messageMissingVoter)
	case errors.Is(err, identity.ErrAmbiguousIdentity):
		return identity.Identity{}, newInvalidInputError(opResolveVoter, "ambiguous_voter", messageAmbiguousVoter)
	default:
		return identity.Identity{}, newServiceError(opResolveVoter, "invalid_voter", KindInvalidInput, messageInvalidVoter, err)
	}
}

// CastResult describes the ledger transition and the counters it produced.
// Value and VoteID are nil when the outcome is deleted.
type CastResult struct {
	Target  Target
	Outcome Outcome
	Value   *VoteValue
	VoteID  *string
	Tally   scoring.Tally
}

// CastVote creates, flips or removes the voter's vote on the target and applies the matching
// counter delta in the same transaction. A lost race on the unique index is retried once.
func (s *Service) CastVote(ctx context.Context, target Target, voter identity.Identity, value VoteValue) (CastResult, error) {
	startedAt := s.clock.Now()
	if err := validateCast(target, voter, value); err != nil {
		s.recordFailure(target, err)
		return CastResult{}, err
	}

	var (
		result CastResult
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = s.castOnce(ctx, target, voter, value)
		if err == nil || KindOf(err) != KindConflict {
			break
		}
		if attempt >= maxCastAttempts {
			s.logError(opCastVote, "conflict_retry_exhausted", err, castFields(target, voter)...)
			err = newServiceError(opCastVote, "conflict_retry_exhausted", KindInternal, "", err)
			break
		}
		if s.metrics != nil {
			s.metrics.IncConflictRetry(string(target.Kind()))
		}
		s.logger.Warn("vote conflict, retrying",
			append([]zap.Field{zap.String("operation", opCastVote), zap.Int("attempt", attempt)}, castFields(target, voter)...)...)
	}
	if err != nil {
		s.recordFailure(target, err)
		return CastResult{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveCast(string(target.Kind()), string(result.Outcome), s.clock.Since(startedAt))
	}
	if s.publisher != nil {
		s.publisher.PublishScore(ScoreEvent{
			Target:     target,
			Outcome:    result.Outcome,
			Tally:      result.Tally,
			OccurredAt: s.clock.Now().UTC(),
		})
	}
	return result, nil
}

func validateCast(target Target, voter identity.Identity, value VoteValue) error {
	if target.IsZero() {
		return newInvalidInputError(opCastVote, "missing_target", messageMissingTarget)
	}
	if voter.IsZero() {
		return newInvalidInputError(opCastVote, "missing_voter", messageMissingVoter)
	}
	if !value.Valid() {
		return newInvalidInputError(opCastVote, "invalid_value", messageInvalidValue)
	}
	return nil
}

func (s *Service) castOnce(ctx context.Context, target Target, voter identity.Identity, value VoteValue) (CastResult, error) {
	var result CastResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := s.scores.Exists(tx, target.Ref())
		if err != nil {
			s.logError(opCastVote, "target_lookup_failed", err, castFields(target, voter)...)
			return newServiceError(opCastVote, "target_lookup_failed", KindInternal, "", err)
		}
		if !exists {
			return targetNotFound(opCastVote, target)
		}

		var existing Vote
		var existingPtr *Vote
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(target.column()+" = ? AND "+voterColumn(voter)+" = ?", target.ID(), voter.ID()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			s.logError(opCastVote, "vote_select_failed", err, castFields(target, voter)...)
			return newServiceError(opCastVote, "vote_select_failed", KindInternal, "", err)
		} else {
			existingPtr = &existing
		}

		change, err := resolveVote(existingPtr, value)
		if err != nil {
			s.logError(opCastVote, "resolve_vote_failed", err, castFields(target, voter)...)
			return newServiceError(opCastVote, "resolve_vote_failed", KindInternal, "", err)
		}

		now := s.clock.Now().UTC()
		var voteID *string
		switch change.outcome {
		case OutcomeCreated:
			id, err := s.idProvider.NewID()
			if err != nil {
				s.logError(opCastVote, "id_generation_failed", err, castFields(target, voter)...)
				return newServiceError(opCastVote, "id_generation_failed", KindInternal, "", err)
			}
			vote := newVote(id, target, voter, change.value, now)
			if err := tx.Create(&vote).Error; err != nil {
				if isUniqueViolation(err) {
					return newServiceError(opCastVote, "vote_conflict", KindConflict, "", err)
				}
				s.logError(opCastVote, "vote_insert_failed", err, castFields(target, voter)...)
				return newServiceError(opCastVote, "vote_insert_failed", KindInternal, "", err)
			}
			voteID = &vote.ID
		case OutcomeUpdated:
			if err := tx.Model(&Vote{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{columnValue: change.value.Int(), "updated_at": now}).Error; err != nil {
				s.logError(opCastVote, "vote_update_failed", err, castFields(target, voter)...)
				return newServiceError(opCastVote, "vote_update_failed", KindInternal, "", err)
			}
			voteID = &existing.ID
		case OutcomeDeleted:
			if err := tx.Where("id = ?", existing.ID).Delete(&Vote{}).Error; err != nil {
				s.logError(opCastVote, "vote_delete_failed", err, castFields(target, voter)...)
				return newServiceError(opCastVote, "vote_delete_failed", KindInternal, "", err)
			}
		}

		tally, err := s.scores.ApplyDelta(tx, target.Ref(), change.delta)
		if errors.Is(err, scoring.ErrEntityNotFound) {
			return targetNotFound(opCastVote, target)
		}
		if err != nil {
			s.logError(opCastVote, "counter_update_failed", err, castFields(target, voter)...)
			return newServiceError(opCastVote, "counter_update_failed", KindInternal, "", err)
		}

		result = CastResult{
			Target:  target,
			Outcome: change.outcome,
			VoteID:  voteID,
			Tally:   tally,
		}
		if change.outcome != OutcomeDeleted {
			resultingValue := change.value
			result.Value = &resultingValue
		}
		return nil
	})
	if txErr != nil {
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return CastResult{}, txErr
		}
		s.logError(opCastVote, "transaction_failed", txErr, castFields(target, voter)...)
		return CastResult{}, newServiceError(opCastVote, "transaction_failed", KindInternal, "", txErr)
	}
	return result, nil
}

// GetVote returns the voter's current vote on the target, or nil when there is none.
func (s *Service) GetVote(ctx context.Context, target Target, voter identity.Identity) (*Vote, error) {
	if target.IsZero() {
		return nil, newInvalidInputError(opGetVote, "missing_target", messageMissingTarget)
	}
	if voter.IsZero() {
		return nil, newInvalidInputError(opGetVote, "missing_voter", messageMissingVoter)
	}

	exists, err := s.scores.Exists(s.db.WithContext(ctx), target.Ref())
	if err != nil {
		s.logError(opGetVote, "target_lookup_failed", err, castFields(target, voter)...)
		return nil, newServiceError(opGetVote, "target_lookup_failed", KindInternal, "", err)
	}
	if !exists {
		return nil, targetNotFound(opGetVote, target)
	}

	var vote Vote
	err = s.db.WithContext(ctx).
		Where(target.column()+" = ? AND "+voterColumn(voter)+" = ?", target.ID(), voter.ID()).
		Take(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opGetVote, "query_failed", err, castFields(target, voter)...)
		return nil, newServiceError(opGetVote, "query_failed", KindInternal, "", err)
	}
	return &vote, nil
}

// RecountSummary reports what a recount touched.
type RecountSummary struct {
	Scanned   int
	Corrected int
	// Orphaned counts targets referenced by votes but missing from their table.
	Orphaned int
}

type voteCountRow struct {
	TargetID  string `gorm:"column:target_id"`
	Upvotes   int64  `gorm:"column:upvotes"`
	Downvotes int64  `gorm:"column:downvotes"`
}

type counterRow struct {
	ID        string `gorm:"column:id"`
	Upvotes   int64  `gorm:"column:upvotes"`
	Downvotes int64  `gorm:"column:downvotes"`
}

// Recount rebuilds every post and comment counter from the vote rows, refreshing score and
// hot score. Each entity table is rebuilt in its own transaction.
func (s *Service) Recount(ctx context.Context) (RecountSummary, error) {
	summary := RecountSummary{}
	for _, kind := range []scoring.EntityKind{scoring.EntityPost, scoring.EntityComment} {
		column := columnPostID
		if kind == scoring.EntityComment {
			column = columnCommentID
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var tallies []voteCountRow
			if err := tx.Model(&Vote{}).
				Select(column + " AS target_id, " +
					"SUM(CASE WHEN value = 1 THEN 1 ELSE 0 END) AS upvotes, " +
					"SUM(CASE WHEN value = -1 THEN 1 ELSE 0 END) AS downvotes").
				Where(column + " IS NOT NULL").
				Group(column).
				Scan(&tallies).Error; err != nil {
				s.logError(opRecount, "vote_aggregate_failed", err, zap.String("entity_kind", string(kind)))
				return newServiceError(opRecount, "vote_aggregate_failed", KindInternal, "", err)
			}
			expected := make(map[string]scoring.Counts, len(tallies))
			for _, row := range tallies {
				expected[row.TargetID] = scoring.Counts{Upvotes: row.Upvotes, Downvotes: row.Downvotes}
			}

			var entities []counterRow
			if err := tx.Table(kind.Table()).
				Select("id, upvotes, downvotes").
				Order("id").
				Scan(&entities).Error; err != nil {
				s.logError(opRecount, "entity_scan_failed", err, zap.String("entity_kind", string(kind)))
				return newServiceError(opRecount, "entity_scan_failed", KindInternal, "", err)
			}

			for _, entity := range entities {
				counts := expected[entity.ID]
				delete(expected, entity.ID)
				summary.Scanned++
				if counts.Upvotes != entity.Upvotes || counts.Downvotes != entity.Downvotes {
					summary.Corrected++
				}
				ref := scoring.EntityRef{Kind: kind, ID: entity.ID}
				if _, err := s.scores.Rebuild(tx, ref, counts); err != nil {
					s.logError(opRecount, "rebuild_failed", err,
						zap.String("entity_kind", string(kind)),
						zap.String("entity_id", entity.ID))
					return newServiceError(opRecount, "rebuild_failed", KindInternal, "", err)
				}
			}
			summary.Orphaned += len(expected)
			return nil
		})
		if err != nil {
			return RecountSummary{}, err
		}
	}

	s.logger.Info("vote counters recounted",
		zap.Int("scanned", summary.Scanned),
		zap.Int("corrected", summary.Corrected),
		zap.Int("orphaned", summary.Orphaned))
	return summary, nil
}

func targetNotFound(operation string, target Target) error {
	return newServiceError(operation, "target_not_found", KindNotFound, target.Kind().Label()+" not found", scoring.ErrEntityNotFound)
}

// isUniqueViolation recognizes duplicate-key failures from both supported drivers,
// with or without gorm's error translation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value") ||
		strings.Contains(message, "sqlstate 23505")
}

func (s *Service) recordFailure(target Target, err error) {
	if s.metrics == nil {
		return
	}
	targetKind := string(target.Kind())
	if targetKind == "" {
		targetKind = "unknown"
	}
	s.metrics.IncFailure(targetKind, string(KindOf(err)))
}

func castFields(target Target, voter identity.Identity) []zap.Field {
	return []zap.Field{
		zap.String("target", target.Key()),
		zap.String("voter_kind", string(voter.Kind())),
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("voting service error", attrs...)
}
