package voting

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/content"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	sqlite "github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

var ledgerDatabaseCounter atomic.Int64

type sequenceIDs struct {
	next atomic.Int64
}

func (g *sequenceIDs) NewID() (string, error) {
	return fmt.Sprintf("vote-%d", g.next.Add(1)), nil
}

type recordedCast struct {
	targetKind string
	outcome    string
}

type fakeRecorder struct {
	mu        sync.Mutex
	casts     []recordedCast
	conflicts int
	failures  map[string]int
}

func (r *fakeRecorder) ObserveCast(targetKind string, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casts = append(r.casts, recordedCast{targetKind: targetKind, outcome: outcome})
}

func (r *fakeRecorder) IncConflictRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

func (r *fakeRecorder) IncFailure(_ string, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[kind]++
}

type capturePublisher struct {
	mu     sync.Mutex
	events []ScoreEvent
}

func (p *capturePublisher) PublishScore(event ScoreEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type ledgerFixture struct {
	service   *Service
	db        *gorm.DB
	clock     *clockwork.FakeClock
	recorder  *fakeRecorder
	publisher *capturePublisher
}

func newLedgerFixture(t *testing.T) ledgerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:voting_ledger_%d?mode=memory&cache=shared", ledgerDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&content.Post{}, &content.Comment{}, &Vote{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	scores, err := scoring.NewStore(scoring.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build score store: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC))
	recorder := &fakeRecorder{}
	publisher := &capturePublisher{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Scores:     scores,
		Clock:      clock,
		IDProvider: &sequenceIDs{},
		Publisher:  publisher,
		Metrics:    recorder,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return ledgerFixture{service: service, db: db, clock: clock, recorder: recorder, publisher: publisher}
}

func (f ledgerFixture) seedPost(t *testing.T, post content.Post) {
	t.Helper()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = f.clock.Now().UTC()
	}
	post.UpdatedAt = post.CreatedAt
	if post.Title == "" {
		post.Title = "title"
	}
	post.Score = post.Upvotes - post.Downvotes
	post.HotScore = scoring.HotScore(post.Score, post.CreatedAt)
	if err := f.db.Create(&post).Error; err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}
}

func (f ledgerFixture) seedComment(t *testing.T, comment content.Comment) {
	t.Helper()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = f.clock.Now().UTC()
	}
	comment.UpdatedAt = comment.CreatedAt
	if comment.Body == "" {
		comment.Body = "body"
	}
	comment.Score = comment.Upvotes - comment.Downvotes
	if err := f.db.Create(&comment).Error; err != nil {
		t.Fatalf("failed to seed comment: %v", err)
	}
}

func (f ledgerFixture) loadPost(t *testing.T, id string) content.Post {
	t.Helper()
	var post content.Post
	if err := f.db.First(&post, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to load post %s: %v", id, err)
	}
	return post
}

func (f ledgerFixture) countVotes(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&Vote{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count votes: %v", err)
	}
	return count
}

func mustPostTarget(t *testing.T, id string) Target {
	t.Helper()
	target, err := PostTarget(id)
	if err != nil {
		t.Fatalf("unexpected target error: %v", err)
	}
	return target
}

func mustCommentTarget(t *testing.T, id string) Target {
	t.Helper()
	target, err := CommentTarget(id)
	if err != nil {
		t.Fatalf("unexpected target error: %v", err)
	}
	return target
}

func mustAnonymous(t *testing.T, id string) identity.Identity {
	t.Helper()
	voter, err := identity.NewAnonymous(id)
	if err != nil {
		t.Fatalf("unexpected identity error: %v", err)
	}
	return voter
}

func mustRegistered(t *testing.T, id string) identity.Identity {
	t.Helper()
	voter, err := identity.NewRegistered(id)
	if err != nil {
		t.Fatalf("unexpected identity error: %v", err)
	}
	return voter
}

func asServiceError(err error, target **ServiceError) bool {
	return errors.As(err, target)
}
