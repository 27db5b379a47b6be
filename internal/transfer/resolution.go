package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hackgods/hospital-transfers/internal/apperr"
	redisclient "github.com/hackgods/hospital-transfers/internal/redis"
)

// BeginResolution records a supervisor's decision on a pending request and
// returns a single-use token. The decision takes effect only when
// CompleteResolution is called with a justification before the token
// expires; an abandoned token leaves the request pending.
func (s *Service) BeginResolution(ctx context.Context, destinationHospitalID, transferID string, decision Status, by Actor) (*PendingResolution, error) {
	if err := apperr.Required(
		"transfer id", transferID,
		"destination hospital", destinationHospitalID,
		"resolved by", by.ID,
	); err != nil {
		return nil, err
	}
	if !decision.IsDecision() {
		return nil, apperr.Validation("decision must be %q or %q", StatusApproved, StatusDenied)
	}

	req, err := s.Request(ctx, destinationHospitalID, transferID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}

	intent := Intent{
		TransferID:            transferID,
		DestinationHospitalID: destinationHospitalID,
		Decision:              decision,
		ResolvedBy:            by,
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("encode resolution intent: %w", err)
	}

	issuedAt := s.now()
	token, err := s.tokens.Issue(ctx, payload, s.cfg.ResolutionTTL)
	if err != nil {
		return nil, apperr.Store("issue resolution token", err)
	}

	s.logEvent(ctx, req, EventResolutionStarted, by.ID, map[string]any{"decision": decision})

	return &PendingResolution{
		Token:     token,
		ExpiresAt: issuedAt.Add(s.cfg.ResolutionTTL).UTC(),
		Intent:    intent,
		Request:   req,
	}, nil
}

// PeekResolution returns the intent behind a token without consuming it.
func (s *Service) PeekResolution(ctx context.Context, token string) (*Intent, error) {
	if token == "" {
		return nil, apperr.Validation("resolution token is required")
	}
	payload, err := s.tokens.Peek(ctx, token)
	if err != nil {
		return nil, tokenError(err)
	}
	return decodeIntent(payload)
}

// CompleteResolution consumes the token and resolves the request with the
// recorded decision. The token is not consumed when justification is empty.
func (s *Service) CompleteResolution(ctx context.Context, token, justification string) (*Request, error) {
	if err := apperr.Required("resolution token", token, "justification", justification); err != nil {
		return nil, err
	}

	payload, err := s.tokens.Redeem(ctx, token)
	if err != nil {
		return nil, tokenError(err)
	}
	intent, err := decodeIntent(payload)
	if err != nil {
		return nil, err
	}

	return s.ResolveRequest(ctx, Resolution{
		TransferID:            intent.TransferID,
		DestinationHospitalID: intent.DestinationHospitalID,
		Decision:              intent.Decision,
		Justification:         justification,
		ResolvedBy:            intent.ResolvedBy,
	})
}

func decodeIntent(payload []byte) (*Intent, error) {
	var intent Intent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return nil, fmt.Errorf("decode resolution intent: %w", err)
	}
	return &intent, nil
}

func tokenError(err error) error {
	if errors.Is(err, redisclient.ErrTokenNotFound) {
		return apperr.NotFound("resolution token (unknown or expired)")
	}
	return apperr.Store("read resolution token", err)
}
