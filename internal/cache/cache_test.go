package cache

import (
	"sync"
	"testing"
	"time"
)

func TestKeyJoinsSegmentsDeterministically(t *testing.T) {
	key := NewKey("likedCount", 512, "42")
	if key.String() != "likedCount:512:42" {
		t.Fatalf("unexpected key: %s", key.String())
	}
}

func TestGetReturnsNilForMissingKey(t *testing.T) {
	store := NewStore()
	if value := store.Get(NewKey("absent")); value != nil {
		t.Fatalf("expected nil for missing key, got %v", value)
	}
}

func TestSetThenGet(t *testing.T) {
	store := NewStore()
	store.Set(NewKey("userLiked", 1, 512, 42), true, 0)
	value := store.Get(NewKey("userLiked", 1, 512, 42))
	liked, ok := value.(bool)
	if !ok || !liked {
		t.Fatalf("expected cached true, got %v", value)
	}
}

func TestExpiredEntryReadsAsAbsent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := NewStore(WithClock(func() time.Time { return now }))
	store.Set(NewKey("campuses"), "all", 10*time.Minute)

	now = now.Add(11 * time.Minute)
	if value := store.Get(NewKey("campuses")); value != nil {
		t.Fatalf("expected expired entry to read as absent, got %v", value)
	}
}

func TestIncrementInitializesMissingCounterAtZero(t *testing.T) {
	store := NewStore()
	if got := store.Increment(NewKey("likedCount", 512, 42), 1); got != 1 {
		t.Fatalf("expected increment of missing key to yield 1, got %d", got)
	}
	if got := store.Decrement(NewKey("likedCount", 512, 42), 1); got != 0 {
		t.Fatalf("expected decrement back to 0, got %d", got)
	}
}

func TestCounterSurvivesConcurrentWriters(t *testing.T) {
	store := NewStore()
	key := NewKey("likedCount", 512, 7)

	var group sync.WaitGroup
	for i := 0; i < 50; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			store.Increment(key, 1)
		}()
	}
	group.Wait()

	if got := store.Increment(key, 0); got != 50 {
		t.Fatalf("expected counter at 50 after concurrent increments, got %d", got)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	store := NewStore()
	store.Set(NewKey("a"), 1, 0)
	store.Delete(NewKey("a"))
	if value := store.Get(NewKey("a")); value != nil {
		t.Fatalf("expected deleted entry to be absent, got %v", value)
	}
}
