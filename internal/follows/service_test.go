package follows

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/parishlabs/steeple/internal/auth"
	"github.com/parishlabs/steeple/internal/cache"
	"github.com/parishlabs/steeple/internal/globalid"
	"github.com/parishlabs/steeple/internal/rock"
)

func newTestService(t *testing.T) (*Service, *cache.Store) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/EntityTypes" {
			w.Write([]byte(`[{"Id": 512, "Name": "Rock.Model.ContentChannelItem", "FriendlyName": "Content Item"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(upstream.Close)

	client, err := rock.NewClient(rock.ClientConfig{BaseURL: upstream.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	constants, err := rock.NewConstants(rock.ConstantsConfig{
		Client:     client,
		ModelNames: map[string]string{"ContentItem": "Rock.Model.ContentChannelItem"},
	})
	if err != nil {
		t.Fatalf("failed to build constants: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&Follow{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store := cache.NewStore()

	service, err := NewService(ServiceConfig{
		Database:  db,
		Cache:     store,
		Constants: constants,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, store
}

func personContext(personID int) context.Context {
	return auth.WithPerson(context.Background(), auth.Person{ID: personID, PrimaryAliasID: personID * 10})
}

func TestFollowIsIdempotent(t *testing.T) {
	service, _ := newTestService(t)
	ctx := personContext(1)
	nodeID := globalid.Encode("123", "ContentItem")

	first, err := service.Follow(ctx, nodeID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.Follow(ctx, nodeID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeated follow created a new record: %s vs %s", first.ID, second.ID)
	}

	count, err := service.LikedCount(ctx, nodeID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single like, got %d", count)
	}
}

func TestFollowThenUnfollowRestoresState(t *testing.T) {
	service, _ := newTestService(t)
	ctx := personContext(1)
	nodeID := globalid.Encode("123", "ContentItem")

	if _, err := service.Follow(ctx, nodeID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	liked, err := service.IsLikedForCurrentUserAndNode(ctx, nodeID)
	if err != nil || !liked {
		t.Fatalf("expected liked state, got %v / %v", liked, err)
	}

	if err := service.Unfollow(ctx, nodeID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	liked, err = service.IsLikedForCurrentUserAndNode(ctx, nodeID)
	if err != nil || liked {
		t.Fatalf("expected unliked state, got %v / %v", liked, err)
	}
	count, err := service.LikedCount(ctx, nodeID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero likes after unfollow, got %d", count)
	}
}

func TestRepeatedUnfollowDoesNotUnderflowCounter(t *testing.T) {
	service, _ := newTestService(t)
	ctx := personContext(1)
	nodeID := globalid.Encode("123", "ContentItem")

	if _, err := service.Follow(ctx, nodeID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Unfollow(ctx, nodeID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Unfollow(ctx, nodeID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := service.LikedCount(ctx, nodeID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("counter drifted on repeated unfollow: %d", count)
	}
}

func TestWriteUpdatesCacheSynchronously(t *testing.T) {
	service, store := newTestService(t)
	ctx := personContext(1)
	nodeID := globalid.Encode("123", "ContentItem")

	// Prime the count cache before the write.
	if _, err := service.LikedCount(ctx, nodeID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.Follow(ctx, nodeID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cached := store.Get(cache.NewKey("likedCount", 512, 123))
	if cached != int64(1) {
		t.Fatalf("expected cache to hold the new count, got %v", cached)
	}
}

func TestAnonymousReadsDegradeToSafeDefaults(t *testing.T) {
	service, _ := newTestService(t)
	nodeID := globalid.Encode("123", "ContentItem")

	liked, err := service.IsLikedForCurrentUserAndNode(context.Background(), nodeID)
	if err != nil {
		t.Fatalf("anonymous like check must not error: %v", err)
	}
	if liked {
		t.Fatalf("anonymous caller can never have liked a node")
	}

	followings, err := service.FollowingsForCurrentUser(context.Background(), "ContentItem")
	if err != nil {
		t.Fatalf("anonymous followings must not error: %v", err)
	}
	if len(followings) != 0 {
		t.Fatalf("expected empty followings, got %d", len(followings))
	}
}

func TestAnonymousFollowIsRejected(t *testing.T) {
	service, _ := newTestService(t)
	nodeID := globalid.Encode("123", "ContentItem")

	if _, err := service.Follow(context.Background(), nodeID); !errors.Is(err, auth.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if err := service.Unfollow(context.Background(), nodeID); !errors.Is(err, auth.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestMalformedNodeIDIsRejected(t *testing.T) {
	service, _ := newTestService(t)

	var malformed *globalid.MalformedIDError
	if _, err := service.Follow(personContext(1), "%%%"); !errors.As(err, &malformed) {
		t.Fatalf("expected malformed id error, got %v", err)
	}
}
