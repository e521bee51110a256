package registry

import (
	"context"
	"errors"
	"testing"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name      string
		storeType StoreType
		opts      []StoreOption
		wantErr   error
	}{
		{"memory", StoreTypeMemory, nil, nil},
		{"redis without client", StoreTypeRedis, nil, ErrInvalidConfig},
		{"unknown", StoreType("etcd"), nil, ErrInvalidStoreType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.storeType, tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewStore = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && s == nil {
				t.Fatal("NewStore returned nil store")
			}
		})
	}
}

func TestMemoryStoreAcquireRelease(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(StoreTypeMemory)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Acquire(ctx, "room-a", "sess-1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := s.Acquire(ctx, "room-a", "sess-2"); !errors.Is(err, ErrRoomBusy) {
		t.Fatalf("second acquire = %v, want ErrRoomBusy", err)
	}

	// Re-acquiring by the holder refreshes the claim.
	if err := s.Acquire(ctx, "room-a", "sess-1"); err != nil {
		t.Fatalf("re-acquire by holder: %v", err)
	}

	holder, err := s.Active(ctx, "room-a")
	if err != nil {
		t.Fatal(err)
	}
	if holder != "sess-1" {
		t.Errorf("Active = %q, want sess-1", holder)
	}

	// Release by a non-holder is a no-op.
	if err := s.Release(ctx, "room-a", "sess-2"); err != nil {
		t.Fatal(err)
	}
	if holder, _ := s.Active(ctx, "room-a"); holder != "sess-1" {
		t.Errorf("non-holder release freed the room, holder = %q", holder)
	}

	if err := s.Release(ctx, "room-a", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if holder, _ := s.Active(ctx, "room-a"); holder != "" {
		t.Errorf("holder after release = %q, want empty", holder)
	}

	// The room is claimable again.
	if err := s.Acquire(ctx, "room-a", "sess-2"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestMemoryStoreIndependentRooms(t *testing.T) {
	ctx := context.Background()
	s, _ := NewStore(StoreTypeMemory)

	if err := s.Acquire(ctx, "room-a", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(ctx, "room-b", "sess-2"); err != nil {
		t.Fatalf("different room blocked: %v", err)
	}
}
