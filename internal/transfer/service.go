// Package transfer is the state machine for inter-hospital transfer
// requests: pending -> approved | denied, both terminal.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/apperr"
	"github.com/hackgods/hospital-transfers/internal/audit"
	"github.com/hackgods/hospital-transfers/internal/config"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/metrics"
	"github.com/hackgods/hospital-transfers/internal/notification"
	redisclient "github.com/hackgods/hospital-transfers/internal/redis"
	"github.com/hackgods/hospital-transfers/internal/rooms"
	"github.com/hackgods/hospital-transfers/internal/store"
	"github.com/hackgods/hospital-transfers/internal/timeline"
)

const (
	EventTransferSubmitted  = "TRANSFER_SUBMITTED"
	EventResolutionStarted  = "TRANSFER_RESOLUTION_STARTED"
	EventTransferApproved   = "TRANSFER_APPROVED"
	EventTransferDenied     = "TRANSFER_DENIED"
	EventSideEffectFailed   = "TRANSFER_SIDE_EFFECT_FAILED"
	EventResolutionConflict = "TRANSFER_RESOLUTION_CONFLICT"
)

var (
	ErrAlreadyResolved      = fmt.Errorf("%w: transfer request already resolved", apperr.ErrConflict)
	ErrResolutionInProgress = fmt.Errorf("%w: transfer request is being resolved, please retry", apperr.ErrConflict)
)

// Directory is the reference data the engine reads and the patient pointer
// it moves.
type Directory interface {
	Patient(ctx context.Context, id string) (*directory.Patient, error)
	Hospital(ctx context.Context, id string) (*directory.Hospital, error)
	ResolveHospitalIDByName(ctx context.Context, name string) (string, error)
	ResolveUserProfile(ctx context.Context, userID string) (*directory.UserProfile, error)
	MovePatient(ctx context.Context, patientID, hospitalID string) error
}

type Rooms interface {
	Room(ctx context.Context, id string) (*rooms.Room, error)
	Reserve(ctx context.Context, roomID string) error
}

type Notifier interface {
	Notify(ctx context.Context, inbox string, msg notification.Message) (string, error)
}

type Timeline interface {
	RecordTransfer(ctx context.Context, patientID string, d timeline.Details) ([]string, error)
}

// Deps are the collaborators of the engine. Audit and Metrics may be nil.
type Deps struct {
	Store     store.Store
	Directory Directory
	Rooms     Rooms
	Notifier  Notifier
	Timeline  Timeline
	Locker    redisclient.Locker
	Tokens    redisclient.TokenStore
	Audit     audit.Log
	Metrics   *metrics.Metrics
}

type Service struct {
	store    store.Store
	dir      Directory
	rooms    Rooms
	notifier Notifier
	timeline Timeline
	locker   redisclient.Locker
	tokens   redisclient.TokenStore
	audit    audit.Log
	metrics  *metrics.Metrics
	cfg      config.Config
	log      *zap.Logger
	now      func() time.Time
}

func NewService(deps Deps, cfg config.Config, log *zap.Logger) *Service {
	auditLog := deps.Audit
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &Service{
		store:    deps.Store,
		dir:      deps.Directory,
		rooms:    deps.Rooms,
		notifier: deps.Notifier,
		timeline: deps.Timeline,
		locker:   deps.Locker,
		tokens:   deps.Tokens,
		audit:    auditLog,
		metrics:  deps.Metrics,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SubmitRequest validates a transfer intent and stores it as pending under
// the destination hospital, then alerts that hospital's supervisors.
// Nothing is written when validation fails.
//
// If the request was stored but the supervisor alert failed, the request is
// returned together with the error.
func (s *Service) SubmitRequest(ctx context.Context, sub Submission) (*Request, error) {
	if err := apperr.Required(
		"patient", sub.PatientID,
		"destination hospital", sub.DestinationHospitalID,
		"room", sub.RoomID,
		"reason", sub.Reason,
		"requested by", sub.RequestedBy,
	); err != nil {
		return nil, err
	}

	patient, err := s.dir.Patient(ctx, sub.PatientID)
	if err != nil {
		return nil, err
	}
	dest, err := s.dir.Hospital(ctx, sub.DestinationHospitalID)
	if err != nil {
		return nil, err
	}

	room, err := s.rooms.Room(ctx, sub.RoomID)
	if err != nil {
		return nil, err
	}
	if room.HospitalID != dest.ID {
		return nil, apperr.Validation("room %s does not belong to hospital %s", room.Name, dest.Name)
	}
	if !room.Available {
		return nil, fmt.Errorf("room %s: %w", room.Name, rooms.ErrRoomUnavailable)
	}

	requester, err := s.dir.ResolveUserProfile(ctx, sub.RequestedBy)
	if err != nil {
		return nil, fmt.Errorf("resolve requester: %w", err)
	}
	origin, err := s.hospitalOf(ctx, requester.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("resolve origin hospital: %w", err)
	}
	if origin.ID == dest.ID {
		return nil, apperr.Validation("destination must differ from the requesting hospital")
	}

	req := Request{
		Patient:                 PatientRef{ID: patient.ID, Name: patient.Name},
		OriginHospitalID:        origin.ID,
		OriginHospitalName:      origin.Name,
		DestinationHospitalID:   dest.ID,
		DestinationHospitalName: dest.Name,
		RoomID:                  room.ID,
		RoomName:                room.Name,
		Reason:                  sub.Reason,
		Status:                  StatusPending,
		RequestedBy:             requester.ID,
		RequestedByName:         requester.Name,
		RequestedAt:             s.now().UTC(),
	}

	id, err := s.store.Append(ctx, store.TransfersPath(dest.ID), req)
	if err != nil {
		return nil, fmt.Errorf("create transfer request: %w", err)
	}
	req.ID = id

	s.metrics.IncSubmitted()
	s.logEvent(ctx, &req, EventTransferSubmitted, requester.ID, map[string]any{
		"patient_id": patient.ID,
		"room_id":    room.ID,
		"origin_id":  origin.ID,
	})
	s.log.Info("transfer requested",
		zap.String("transfer_id", id),
		zap.String("patient_id", patient.ID),
		zap.String("destination_hospital_id", dest.ID),
		zap.String("room_id", room.ID),
	)

	_, err = s.notifier.Notify(ctx, notification.SupervisorInbox(dest.ID), notification.Message{
		Title:      "New transfer request",
		Message:    fmt.Sprintf("Patient: %s - Reason: %s - Room: %s", patient.Name, sub.Reason, room.Name),
		TransferID: id,
		RoomID:     room.ID,
	})
	if err != nil {
		s.sideEffectFailed(ctx, &req, "supervisor_notification", err)
		return &req, fmt.Errorf("transfer %s created, supervisor notification failed: %w", id, err)
	}

	return &req, nil
}

// ResolveRequest applies a terminal decision to a pending request.
//
// A short per-transfer lock serializes resolvers and the status write is
// conditional on the request still being pending, so a second resolution
// fails with ErrAlreadyResolved and leaves the first decision in place.
//
// Approval is refused with rooms.ErrRoomUnavailable, leaving the request
// pending, when the room was taken after submission. On approval the room is
// reserved, the exit and entry timeline events are
// appended and the patient pointer is moved, in that order, each awaited.
// A failing step stops the sequence and is returned; the decision itself
// stays committed. The requester is notified last.
func (s *Service) ResolveRequest(ctx context.Context, res Resolution) (*Request, error) {
	if err := apperr.Required(
		"transfer id", res.TransferID,
		"destination hospital", res.DestinationHospitalID,
		"justification", res.Justification,
		"resolved by", res.ResolvedBy.ID,
	); err != nil {
		return nil, err
	}
	if !res.Decision.IsDecision() {
		return nil, apperr.Validation("decision must be %q or %q", StatusApproved, StatusDenied)
	}

	var resolved *Request
	err := s.locker.WithLock(ctx, "transfer:"+res.TransferID, func(lockCtx context.Context) error {
		req, err := s.Request(lockCtx, res.DestinationHospitalID, res.TransferID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return ErrAlreadyResolved
		}
		if res.Decision == StatusApproved {
			room, err := s.rooms.Room(lockCtx, req.RoomID)
			if err != nil {
				return err
			}
			if !room.Available {
				return fmt.Errorf("room %s: %w", room.Name, rooms.ErrRoomUnavailable)
			}
		}

		at := s.now().UTC()
		err = s.store.MergeIf(lockCtx, store.TransferPath(res.DestinationHospitalID, res.TransferID),
			"status", StatusPending,
			map[string]any{
				"status":         res.Decision,
				"justification":  res.Justification,
				"resolvedBy":     res.ResolvedBy.ID,
				"resolvedByName": res.ResolvedBy.Name,
				"resolvedByRole": res.ResolvedBy.Role,
				"resolvedAt":     at,
			})
		if errors.Is(err, store.ErrPreconditionFailed) {
			return ErrAlreadyResolved
		}
		if err != nil {
			return fmt.Errorf("commit resolution: %w", err)
		}

		req.Status = res.Decision
		req.Justification = res.Justification
		req.ResolvedBy = res.ResolvedBy.ID
		req.ResolvedByName = res.ResolvedBy.Name
		req.ResolvedByRole = string(res.ResolvedBy.Role)
		req.ResolvedAt = &at
		resolved = req
		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			s.metrics.IncConflict()
			return nil, ErrResolutionInProgress
		case errors.Is(err, ErrAlreadyResolved):
			s.metrics.IncConflict()
			s.logEvent(ctx, &Request{ID: res.TransferID, DestinationHospitalID: res.DestinationHospitalID},
				EventResolutionConflict, res.ResolvedBy.ID, map[string]any{"decision": res.Decision})
			return nil, err
		}
		return nil, err
	}

	eventType := EventTransferDenied
	if resolved.Status == StatusApproved {
		eventType = EventTransferApproved
	}
	s.metrics.IncResolved(string(resolved.Status))
	s.logEvent(ctx, resolved, eventType, res.ResolvedBy.ID, map[string]any{
		"justification": res.Justification,
	})
	s.log.Info("transfer resolved",
		zap.String("transfer_id", resolved.ID),
		zap.String("decision", string(resolved.Status)),
		zap.String("resolved_by", res.ResolvedBy.ID),
	)

	if resolved.Status == StatusApproved {
		if err := s.applyApproval(ctx, resolved); err != nil {
			return resolved, err
		}
	}

	if err := s.notifyRequester(ctx, resolved); err != nil {
		s.sideEffectFailed(ctx, resolved, "requester_notification", err)
		return resolved, fmt.Errorf("transfer %s resolved, requester notification failed: %w", resolved.ID, err)
	}

	return resolved, nil
}

func (s *Service) applyApproval(ctx context.Context, req *Request) error {
	if err := s.rooms.Reserve(ctx, req.RoomID); err != nil {
		s.sideEffectFailed(ctx, req, "reserve_room", err)
		return fmt.Errorf("transfer %s approved, reserving room failed: %w", req.ID, err)
	}

	_, err := s.timeline.RecordTransfer(ctx, req.Patient.ID, timeline.Details{
		TransferID:              req.ID,
		OriginHospitalID:        req.OriginHospitalID,
		OriginHospitalName:      req.OriginHospitalName,
		DestinationHospitalID:   req.DestinationHospitalID,
		DestinationHospitalName: req.DestinationHospitalName,
		RoomID:                  req.RoomID,
		RoomName:                req.RoomName,
		ResponsibleUserID:       req.ResolvedBy,
		ResponsibleName:         req.ResolvedByName,
		ResponsibleRole:         req.ResolvedByRole,
	})
	if err != nil {
		s.sideEffectFailed(ctx, req, "timeline", err)
		return fmt.Errorf("transfer %s approved, timeline update failed: %w", req.ID, err)
	}

	if err := s.dir.MovePatient(ctx, req.Patient.ID, req.DestinationHospitalID); err != nil {
		s.sideEffectFailed(ctx, req, "move_patient", err)
		return fmt.Errorf("transfer %s approved, moving patient failed: %w", req.ID, err)
	}
	return nil
}

func (s *Service) notifyRequester(ctx context.Context, req *Request) error {
	title := "Transfer approved"
	verb := "approved"
	if req.Status == StatusDenied {
		title = "Transfer denied"
		verb = "denied"
	}
	_, err := s.notifier.Notify(ctx, notification.ReplyInbox(req.RequestedBy), notification.Message{
		Title:      title,
		Message:    fmt.Sprintf("Your request for patient %s was %s. Justification: %s", req.Patient.Name, verb, req.Justification),
		TransferID: req.ID,
		RoomID:     req.RoomID,
	})
	return err
}

// hospitalOf resolves a hospital reference that may be an id or, in older
// profiles, a display name.
func (s *Service) hospitalOf(ctx context.Context, ref string) (*directory.Hospital, error) {
	h, err := s.dir.Hospital(ctx, ref)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	id, nameErr := s.dir.ResolveHospitalIDByName(ctx, ref)
	if nameErr != nil {
		return nil, err
	}
	return s.dir.Hospital(ctx, id)
}

func (s *Service) sideEffectFailed(ctx context.Context, req *Request, step string, err error) {
	s.metrics.IncSideEffectFailure(step)
	s.log.Error("transfer side effect failed",
		zap.String("transfer_id", req.ID),
		zap.String("step", step),
		zap.Error(err),
	)
	s.logEvent(ctx, req, EventSideEffectFailed, "", map[string]any{
		"step":  step,
		"error": err.Error(),
	})
}

func (s *Service) logEvent(ctx context.Context, req *Request, eventType, actorID string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := audit.Event{
		EventType:  eventType,
		TransferID: req.ID,
		HospitalID: req.DestinationHospitalID,
		ActorID:    actorID,
		Payload:    data,
		CreatedAt:  s.now().UTC(),
	}

	if err := s.audit.Insert(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("failed to insert transfer event",
			zap.String("event_type", eventType),
			zap.String("transfer_id", req.ID),
			zap.Error(err),
		)
	}
}
