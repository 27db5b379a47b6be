package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/apperr"
)

type room struct {
	ID         string `json:"id"`
	HospitalID string `json:"hospitalId"`
	Name       string `json:"name"`
	Available  bool   `json:"available"`
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedis(client, zap.NewNop())
		},
	}
}

func TestStoreWriteRead(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.Write(ctx, RoomPath("r5"), room{ID: "r5", HospitalID: "h2", Name: "ICU 5", Available: true}))

			snap, err := s.Read(ctx, RoomPath("r5"))
			require.NoError(t, err)
			require.True(t, snap.IsRecord())

			var got room
			require.NoError(t, snap.Decode(&got))
			assert.Equal(t, "ICU 5", got.Name)
			assert.True(t, got.Available)

			missing, err := s.Read(ctx, RoomPath("nope"))
			require.NoError(t, err)
			assert.False(t, missing.Exists())
			assert.ErrorIs(t, missing.Decode(&got), apperr.ErrNotFound)
		})
	}
}

func TestStoreCollectionAndMerge(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.Write(ctx, RoomPath("r1"), room{ID: "r1", HospitalID: "h1", Available: true}))
			require.NoError(t, s.Write(ctx, RoomPath("r2"), room{ID: "r2", HospitalID: "h2", Available: true}))
			require.NoError(t, s.Merge(ctx, RoomPath("r2"), map[string]any{"available": false}))

			snap, err := s.Read(ctx, Rooms)
			require.NoError(t, err)
			assert.Equal(t, []string{"r1", "r2"}, snap.Keys())

			var rooms []room
			require.NoError(t, DecodeAll(snap, func(_ string, r room) { rooms = append(rooms, r) }))
			require.Len(t, rooms, 2)
			assert.True(t, rooms[0].Available)
			assert.False(t, rooms[1].Available)
			assert.Equal(t, "h2", rooms[1].HospitalID, "merge must keep untouched fields")
		})
	}
}

func TestStoreMergeIf(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			path := TransferPath("h2", "t1")

			require.NoError(t, s.Write(ctx, path, map[string]any{"status": "pending", "reason": "ICU bed needed"}))

			err := s.MergeIf(ctx, path, "status", "pending", map[string]any{"status": "approved"})
			require.NoError(t, err)

			err = s.MergeIf(ctx, path, "status", "pending", map[string]any{"status": "denied"})
			assert.ErrorIs(t, err, ErrPreconditionFailed)
			assert.ErrorIs(t, err, apperr.ErrConflict)

			var got struct {
				Status string `json:"status"`
				Reason string `json:"reason"`
			}
			snap, err := s.Read(ctx, path)
			require.NoError(t, err)
			require.NoError(t, snap.Decode(&got))
			assert.Equal(t, "approved", got.Status)
			assert.Equal(t, "ICU bed needed", got.Reason)

			err = s.MergeIf(ctx, TransferPath("h2", "missing"), "status", "pending", map[string]any{"status": "approved"})
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestStoreAppendAndDelete(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			inbox := InboxPath("supervisor_h2")

			first, err := s.Append(ctx, inbox, map[string]any{"title": "a"})
			require.NoError(t, err)
			second, err := s.Append(ctx, inbox, map[string]any{"title": "b"})
			require.NoError(t, err)
			assert.NotEqual(t, first, second)

			snap, err := s.Read(ctx, inbox)
			require.NoError(t, err)
			assert.Equal(t, 2, snap.Len())
			assert.Equal(t, []string{first, second}, snap.Keys(), "generated ids are time ordered")

			require.NoError(t, s.Delete(ctx, NotificationPath("supervisor_h2", first)))
			snap, err = s.Read(ctx, inbox)
			require.NoError(t, err)
			assert.Equal(t, []string{second}, snap.Keys())

			require.NoError(t, s.Delete(ctx, inbox))
			snap, err = s.Read(ctx, inbox)
			require.NoError(t, err)
			assert.False(t, snap.Exists())
		})
	}
}

func TestStoreRejectsBadInput(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			assert.ErrorIs(t, s.Write(ctx, "comodos//r1", room{ID: "r1"}), apperr.ErrValidation)
			assert.ErrorIs(t, s.Write(ctx, RoomPath("r1"), "not an object"), apperr.ErrValidation)
			assert.ErrorIs(t, s.Merge(ctx, RoomPath("r1"), nil), apperr.ErrValidation)
		})
	}
}

func TestStoreSubscribe(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			var mu sync.Mutex
			var sizes []int
			sub, err := s.Subscribe(ctx, InboxPath("resposta_u1"), func(snap Snapshot) {
				mu.Lock()
				sizes = append(sizes, snap.Len())
				mu.Unlock()
			})
			require.NoError(t, err)

			last := func() int {
				mu.Lock()
				defer mu.Unlock()
				if len(sizes) == 0 {
					return -1
				}
				return sizes[len(sizes)-1]
			}
			assert.Equal(t, 0, last(), "initial snapshot is delivered immediately")

			_, err = s.Append(ctx, InboxPath("resposta_u1"), map[string]any{"title": "approved"})
			require.NoError(t, err)
			require.Eventually(t, func() bool { return last() == 1 }, 2*time.Second, 10*time.Millisecond)

			sub.Close()
			mu.Lock()
			seen := len(sizes)
			mu.Unlock()

			_, err = s.Append(ctx, InboxPath("resposta_u1"), map[string]any{"title": "late"})
			require.NoError(t, err)
			time.Sleep(50 * time.Millisecond)

			mu.Lock()
			assert.Equal(t, seen, len(sizes), "no delivery after Close")
			mu.Unlock()
		})
	}
}

func TestMemoryCloseWaitsForRunningCallback(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	sub, err := st.Subscribe(ctx, "comodos", func(Snapshot) {
		// the first call is the initial snapshot
		if calls.Add(1) == 2 {
			close(entered)
			<-release
		}
	})
	require.NoError(t, err)

	written := make(chan error, 1)
	go func() { written <- st.Write(ctx, "comodos/r1", room{Name: "R1"}) }()
	<-entered

	closed := make(chan struct{})
	go func() {
		sub.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-closed
	require.NoError(t, <-written)

	require.NoError(t, st.Write(ctx, "comodos/r2", room{Name: "R2"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestLineage(t *testing.T) {
	assert.Equal(t,
		[]string{"notifications/resposta_u1/n1", "notifications/resposta_u1", "notifications"},
		lineage("notifications/resposta_u1/n1"))
}
