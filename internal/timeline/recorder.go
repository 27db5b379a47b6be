// Package timeline appends transfer events to a patient's medical record.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/apperr"
	"github.com/hackgods/hospital-transfers/internal/store"
)

type EventType string

const (
	TransferExit  EventType = "transfer_exit"
	TransferEntry EventType = "transfer_entry"
)

// Details is the transfer metadata shared by the exit and entry events.
type Details struct {
	TransferID              string `json:"transferId,omitempty"`
	OriginHospitalID        string `json:"originHospitalId,omitempty"`
	OriginHospitalName      string `json:"originHospitalName"`
	DestinationHospitalID   string `json:"destinationHospitalId"`
	DestinationHospitalName string `json:"destinationHospitalName"`
	RoomID                  string `json:"roomId"`
	RoomName                string `json:"roomName"`
	ResponsibleUserID       string `json:"responsibleUserId"`
	ResponsibleName         string `json:"responsibleName"`
	ResponsibleRole         string `json:"responsibleRole"`
}

// Event is one immutable entry of a patient's timeline.
type Event struct {
	ID         string    `json:"-"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Details
}

type Recorder struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func New(st store.Store, log *zap.Logger) *Recorder {
	return &Recorder{store: st, log: log, now: time.Now}
}

// WithClock replaces the time source used for occurredAt.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// RecordTransfer appends a transfer_exit event followed by a transfer_entry
// event carrying the same metadata. The entry is not written if the exit
// append fails. It returns the ids of the events written.
func (r *Recorder) RecordTransfer(ctx context.Context, patientID string, d Details) ([]string, error) {
	if err := apperr.Required(
		"patient id", patientID,
		"destination hospital", d.DestinationHospitalID,
		"room", d.RoomID,
	); err != nil {
		return nil, err
	}

	path := store.TimelinePath(patientID)
	at := r.now().UTC()

	ids := make([]string, 0, 2)
	for _, typ := range []EventType{TransferExit, TransferEntry} {
		id, err := r.store.Append(ctx, path, Event{Type: typ, OccurredAt: at, Details: d})
		if err != nil {
			return ids, fmt.Errorf("append %s event: %w", typ, err)
		}
		ids = append(ids, id)
	}

	r.log.Debug("transfer recorded on timeline",
		zap.String("patient_id", patientID),
		zap.String("transfer_id", d.TransferID),
		zap.Strings("event_ids", ids),
	)
	return ids, nil
}

// Timeline returns a patient's events ordered by occurredAt, then id.
func (r *Recorder) Timeline(ctx context.Context, patientID string) ([]Event, error) {
	if patientID == "" {
		return nil, apperr.Validation("patient id is required")
	}
	snap, err := r.store.Read(ctx, store.TimelinePath(patientID))
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, snap.Len())
	err = store.DecodeAll(snap, func(key string, e Event) {
		e.ID = key
		events = append(events, e)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}
