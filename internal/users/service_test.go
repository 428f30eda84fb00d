package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/identity"
	sqlite "github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clockwork.FakeClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:users_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db, clock
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service, db, _ := newTestService(t)

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserAvatarURL:   "https://example.com/avatar.png",
	}
	userID, err := service.ResolveCanonicalUserID(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	// second call should hit cache and not create a duplicate record.
	userID, err = service.ResolveCanonicalUserID(context.Background(), claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", userID)
	}

	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one identity row, got %d", count)
	}
}

func TestResolveCanonicalUserIDRefreshesProfile(t *testing.T) {
	service, db, clock := newTestService(t)
	ctx := context.Background()

	if _, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "alice", UserEmail: "old@example.com"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	clock.Advance(time.Hour)
	fresh, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if _, err := fresh.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "alice", UserEmail: "new@example.com"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	var stored Identity
	if err := db.Where("provider = ? AND subject = ?", auth.DefaultProvider, "alice").Take(&stored).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.Email != "new@example.com" {
		t.Fatalf("expected refreshed email, got %q", stored.Email)
	}
	if !stored.LastSeenAt.Equal(clock.Now().UTC()) {
		t.Fatalf("expected last seen %s, got %s", clock.Now().UTC(), stored.LastSeenAt)
	}
}

func TestResolveVoterReturnsRegisteredIdentity(t *testing.T) {
	service, _, _ := newTestService(t)

	voter, err := service.ResolveVoter(context.Background(), auth.SessionClaims{UserID: "user-7"})
	if err != nil {
		t.Fatalf("resolve voter failed: %v", err)
	}
	expected, err := identity.NewRegistered("user-7")
	if err != nil {
		t.Fatalf("failed to build identity: %v", err)
	}
	if voter != expected {
		t.Fatalf("expected %+v, got %+v", expected, voter)
	}

	if _, err := service.ResolveVoter(context.Background(), auth.SessionClaims{}); err == nil {
		t.Fatalf("expected error for empty claims")
	}
}
