package prayer

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/parishlabs/steeple/internal/auth"
)

func newTestService(t *testing.T, clock func() time.Time) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&PrayerRequest{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestAddPrayerRequiresPerson(t *testing.T) {
	service := newTestService(t, nil)

	if _, err := service.AddPrayer(context.Background(), "please", false, 0); !errors.Is(err, auth.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestAddPrayerRejectsEmptyText(t *testing.T) {
	service := newTestService(t, nil)
	ctx := auth.WithPerson(context.Background(), auth.Person{ID: 1, PrimaryAliasID: 10})

	if _, err := service.AddPrayer(ctx, "   ", false, 0); !errors.Is(err, ErrEmptyPrayerText) {
		t.Fatalf("expected empty text error, got %v", err)
	}
}

func TestAnonymousPrayerStaysPrivate(t *testing.T) {
	service := newTestService(t, nil)
	ctx := auth.WithPerson(context.Background(), auth.Person{ID: 1, PrimaryAliasID: 10})

	created, err := service.AddPrayer(ctx, "for healing", true, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.IsPublic {
		t.Fatalf("anonymous prayers must not be public")
	}

	feed, err := service.ByDailyPrayerFeed(context.Background(), DailyFeedArgs{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feed) != 0 {
		t.Fatalf("private prayer leaked into the shared rotation: %v", feed)
	}
}

func TestDailyFeedFiltersByWindowAndRequester(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, func() time.Time { return now })
	ctx := auth.WithPerson(context.Background(), auth.Person{ID: 1, PrimaryAliasID: 10})
	otherCtx := auth.WithPerson(context.Background(), auth.Person{ID: 2, PrimaryAliasID: 20})

	fresh, err := service.AddPrayer(ctx, "fresh", false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stale, err := service.AddPrayer(otherCtx, "stale", false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.db.Model(&PrayerRequest{}).Where("id = ?", stale.ID).
		Update("created_at", now.AddDate(0, 0, -14)).Error; err != nil {
		t.Fatalf("failed to age prayer: %v", err)
	}

	feed, err := service.ByDailyPrayerFeed(context.Background(), DailyFeedArgs{NumberDaysSincePrayer: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feed) != 1 || feed[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh prayer, got %v", feed)
	}

	mine, err := service.ByDailyPrayerFeed(context.Background(), DailyFeedArgs{PersonID: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != stale.ID {
		t.Fatalf("requester filter ignored the window owner, got %v", mine)
	}
}

func TestIncrementPrayed(t *testing.T) {
	service := newTestService(t, nil)
	ctx := auth.WithPerson(context.Background(), auth.Person{ID: 1, PrimaryAliasID: 10})

	created, err := service.AddPrayer(ctx, "for peace", false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.IncrementPrayed(context.Background(), created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.IncrementPrayed(context.Background(), created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, err := service.GetFromID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.PrayerCount != 2 {
		t.Fatalf("expected prayer count 2, got %d", reloaded.PrayerCount)
	}

	if err := service.IncrementPrayed(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
