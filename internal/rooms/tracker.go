// Package rooms tracks per-hospital room inventory and is the single source
// of truth for whether a room is free.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/apperr"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/metrics"
	"github.com/hackgods/hospital-transfers/internal/notification"
	"github.com/hackgods/hospital-transfers/internal/store"
)

// AllHospitals selects rooms across every hospital in ListRooms.
const AllHospitals = "all"

var ErrRoomUnavailable = fmt.Errorf("%w: room is not available", apperr.ErrConflict)

type Room struct {
	ID         string    `json:"id"`
	HospitalID string    `json:"hospital"`
	Name       string    `json:"name"`
	Available  bool      `json:"available"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Directory is the reference data the tracker consults.
type Directory interface {
	Hospital(ctx context.Context, id string) (*directory.Hospital, error)
	StaffAt(ctx context.Context, hospitalID string, roles ...directory.Role) ([]string, error)
}

type Notifier interface {
	Notify(ctx context.Context, inbox string, msg notification.Message) (string, error)
}

// Tracker owns room availability. Writes are last-writer-wins; no lock is
// taken for direct staff toggles.
type Tracker struct {
	store    store.Store
	dir      Directory
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewTracker(st store.Store, dir Directory, notifier Notifier, m *metrics.Metrics, log *zap.Logger) *Tracker {
	return &Tracker{
		store:    st,
		dir:      dir,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// ListRooms returns the rooms of hospitalID, or of every hospital when
// hospitalID is AllHospitals. Rooms are ordered by name.
func (t *Tracker) ListRooms(ctx context.Context, hospitalID string) ([]Room, error) {
	if hospitalID == "" {
		return nil, apperr.Validation("hospital id is required")
	}
	snap, err := t.store.Read(ctx, store.Rooms)
	if err != nil {
		return nil, err
	}
	return filterRooms(snap, hospitalID, false)
}

// ListAvailableRooms returns the rooms of hospitalID that can be offered as a
// transfer destination.
func (t *Tracker) ListAvailableRooms(ctx context.Context, hospitalID string) ([]Room, error) {
	if hospitalID == "" {
		return nil, apperr.Validation("hospital id is required")
	}
	snap, err := t.store.Read(ctx, store.Rooms)
	if err != nil {
		return nil, err
	}
	return filterRooms(snap, hospitalID, true)
}

func (t *Tracker) Room(ctx context.Context, id string) (*Room, error) {
	if id == "" {
		return nil, apperr.Validation("room id is required")
	}
	snap, err := t.store.Read(ctx, store.RoomPath(id))
	if err != nil {
		return nil, err
	}
	if !snap.IsRecord() {
		return nil, apperr.NotFound("room %s", id)
	}
	var r Room
	if err := snap.Decode(&r); err != nil {
		return nil, err
	}
	r.ID = id
	return &r, nil
}

// AddRoom creates an available room at hospitalID.
func (t *Tracker) AddRoom(ctx context.Context, hospitalID, name string) (*Room, error) {
	if err := apperr.Required("hospital id", hospitalID, "room name", name); err != nil {
		return nil, err
	}
	if _, err := t.dir.Hospital(ctx, hospitalID); err != nil {
		return nil, err
	}

	r := Room{
		HospitalID: hospitalID,
		Name:       name,
		Available:  true,
		CreatedAt:  t.now().UTC(),
	}
	id, err := t.store.Append(ctx, store.Rooms, r)
	if err != nil {
		return nil, err
	}
	if err := t.store.Merge(ctx, store.RoomPath(id), map[string]any{"id": id}); err != nil {
		return nil, err
	}
	r.ID = id
	return &r, nil
}

// SetAvailability is the direct staff toggle. Moving a room from available to
// occupied tells every medico and supervisor at its hospital that a patient
// arrived. It returns the room as written.
func (t *Tracker) SetAvailability(ctx context.Context, roomID string, available bool) (*Room, error) {
	room, err := t.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	wasAvailable := room.Available

	if err := t.store.Merge(ctx, store.RoomPath(roomID), map[string]any{"available": available}); err != nil {
		return nil, err
	}
	room.Available = available
	t.metrics.IncRoomToggle(available)

	t.log.Info("room availability changed",
		zap.String("room_id", roomID),
		zap.String("hospital_id", room.HospitalID),
		zap.Bool("available", available),
	)

	if wasAvailable && !available {
		if err := t.announceArrival(ctx, room); err != nil {
			t.metrics.IncSideEffectFailure("arrival_notification")
			return room, fmt.Errorf("room %s marked occupied, staff notification failed: %w", roomID, err)
		}
	}
	return room, nil
}

// Reserve marks a room occupied on behalf of an approved transfer. Unlike
// SetAvailability it does not announce an arrival, and it fails with
// ErrRoomUnavailable if the room is already occupied.
func (t *Tracker) Reserve(ctx context.Context, roomID string) error {
	room, err := t.Room(ctx, roomID)
	if err != nil {
		return err
	}
	err = t.store.MergeIf(ctx, store.RoomPath(roomID), "available", true, map[string]any{"available": false})
	if errors.Is(err, store.ErrPreconditionFailed) {
		t.log.Warn("refusing to reserve an occupied room",
			zap.String("room_id", roomID),
			zap.String("hospital_id", room.HospitalID),
		)
		return fmt.Errorf("room %s: %w", room.Name, ErrRoomUnavailable)
	}
	if err != nil {
		return err
	}
	t.metrics.IncRoomToggle(false)
	return nil
}

// Watch calls fn with the rooms of hospitalID now and after every room change.
func (t *Tracker) Watch(ctx context.Context, hospitalID string, fn func([]Room)) (store.Subscription, error) {
	if hospitalID == "" {
		return nil, apperr.Validation("hospital id is required")
	}
	return t.store.Subscribe(ctx, store.Rooms, func(snap store.Snapshot) {
		rooms, err := filterRooms(snap, hospitalID, false)
		if err != nil {
			t.log.Warn("dropping undecodable room snapshot", zap.Error(err))
			return
		}
		fn(rooms)
	})
}

func (t *Tracker) announceArrival(ctx context.Context, room *Room) error {
	staff, err := t.dir.StaffAt(ctx, room.HospitalID, directory.RoleMedico, directory.RoleSupervisor)
	if err != nil {
		return fmt.Errorf("resolve staff: %w", err)
	}

	msg := notification.Message{
		Title:   "New patient arrived",
		Message: fmt.Sprintf("New patient arrived at room %s", room.Name),
		RoomID:  room.ID,
	}

	var firstErr error
	for _, userID := range staff {
		if _, err := t.notifier.Notify(ctx, notification.StaffInbox(userID), msg); err != nil {
			t.log.Error("arrival notification failed",
				zap.String("room_id", room.ID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func filterRooms(snap store.Snapshot, hospitalID string, onlyAvailable bool) ([]Room, error) {
	out := make([]Room, 0, snap.Len())
	err := store.DecodeAll(snap, func(key string, r Room) {
		r.ID = key
		if hospitalID != AllHospitals && r.HospitalID != hospitalID {
			return
		}
		if onlyAvailable && !r.Available {
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
