package transfer

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/apperr"
	"github.com/hackgods/hospital-transfers/internal/store"
)

// Request loads one request from its destination hospital's collection.
func (s *Service) Request(ctx context.Context, destinationHospitalID, transferID string) (*Request, error) {
	if err := apperr.Required("destination hospital", destinationHospitalID, "transfer id", transferID); err != nil {
		return nil, err
	}
	snap, err := s.store.Read(ctx, store.TransferPath(destinationHospitalID, transferID))
	if err != nil {
		return nil, err
	}
	if !snap.IsRecord() {
		return nil, apperr.NotFound("transfer request %s", transferID)
	}
	var req Request
	if err := snap.Decode(&req); err != nil {
		return nil, err
	}
	req.ID = transferID
	return &req, nil
}

// ListForHospital returns every request addressed to the hospital, resolved
// ones included, oldest first.
func (s *Service) ListForHospital(ctx context.Context, hospitalID string) ([]Request, error) {
	return s.list(ctx, hospitalID, false)
}

// ListPendingForHospital returns the requests still awaiting a decision.
func (s *Service) ListPendingForHospital(ctx context.Context, hospitalID string) ([]Request, error) {
	return s.list(ctx, hospitalID, true)
}

// WatchPending calls fn with the pending requests of hospitalID now and after
// every change to its collection.
func (s *Service) WatchPending(ctx context.Context, hospitalID string, fn func([]Request)) (store.Subscription, error) {
	if hospitalID == "" {
		return nil, apperr.Validation("hospital id is required")
	}
	return s.store.Subscribe(ctx, store.TransfersPath(hospitalID), func(snap store.Snapshot) {
		reqs, err := decodeRequests(snap, true)
		if err != nil {
			s.log.Warn("dropping undecodable transfer snapshot", zap.String("hospital_id", hospitalID), zap.Error(err))
			return
		}
		fn(reqs)
	})
}

func (s *Service) list(ctx context.Context, hospitalID string, onlyPending bool) ([]Request, error) {
	if hospitalID == "" {
		return nil, apperr.Validation("hospital id is required")
	}
	snap, err := s.store.Read(ctx, store.TransfersPath(hospitalID))
	if err != nil {
		return nil, err
	}
	return decodeRequests(snap, onlyPending)
}

func decodeRequests(snap store.Snapshot, onlyPending bool) ([]Request, error) {
	out := make([]Request, 0, snap.Len())
	err := store.DecodeAll(snap, func(key string, r Request) {
		r.ID = key
		if onlyPending && r.Status != StatusPending {
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
