package node

import (
	"context"
	"errors"
	"testing"

	"github.com/parishlabs/steeple/internal/globalid"
)

func TestGetDispatchesToRegisteredFetcher(t *testing.T) {
	registry := NewRegistry()
	registry.Register("Campus", func(ctx context.Context, localID string) (any, error) {
		if localID != "7" {
			t.Fatalf("unexpected local id %q", localID)
		}
		return map[string]any{"name": "Riverside"}, nil
	})

	opaqueID := globalid.Encode("7", "Campus")
	node, err := registry.Get(context.Background(), opaqueID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node == nil || node.ID != opaqueID || node.TypeName != "Campus" {
		t.Fatalf("bad node: %+v", node)
	}
}

func TestGetRejectsUnregisteredType(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get(context.Background(), globalid.Encode("1", "Widget"))
	var malformed *globalid.MalformedIDError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected malformed id error, got %v", err)
	}
}

func TestGetRejectsUndecodableID(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get(context.Background(), "%%% not base64 %%%")
	var malformed *globalid.MalformedIDError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected malformed id error, got %v", err)
	}
}

func TestGetReturnsNilForMissingEntity(t *testing.T) {
	registry := NewRegistry()
	registry.Register("PrayerRequest", func(ctx context.Context, localID string) (any, error) {
		return nil, nil
	})

	node, err := registry.Get(context.Background(), globalid.Encode("gone", "PrayerRequest"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node != nil {
		t.Fatalf("expected nil node, got %+v", node)
	}
}

func TestGetPropagatesFetcherError(t *testing.T) {
	registry := NewRegistry()
	boom := errors.New("upstream down")
	registry.Register("Campus", func(ctx context.Context, localID string) (any, error) {
		return nil, boom
	})

	_, err := registry.Get(context.Background(), globalid.Encode("7", "Campus"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetcher error, got %v", err)
	}
}
