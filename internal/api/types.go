package api

import (
	"time"

	"github.com/hackgods/hospital-transfers/internal/notification"
	"github.com/hackgods/hospital-transfers/internal/rooms"
	"github.com/hackgods/hospital-transfers/internal/timeline"
	"github.com/hackgods/hospital-transfers/internal/transfer"
)

type CreateTransferRequest struct {
	PatientID             string `json:"patient_id"`
	DestinationHospitalID string `json:"destination_hospital_id"`
	RoomID                string `json:"room_id"`
	Reason                string `json:"reason"`
}

type ResolveTransferRequest struct {
	Decision      string `json:"decision"`
	Justification string `json:"justification"`
}

type BeginResolutionRequest struct {
	Decision string `json:"decision"`
}

type CompleteResolutionRequest struct {
	Justification string `json:"justification"`
}

type SetAvailabilityRequest struct {
	Available *bool `json:"available"`
}

// TransferResponse carries Warning when the transition was committed but a
// follow-up step failed.
type TransferResponse struct {
	ID                      string     `json:"id"`
	PatientID               string     `json:"patient_id"`
	PatientName             string     `json:"patient_name"`
	OriginHospitalID        string     `json:"origin_hospital_id,omitempty"`
	OriginHospitalName      string     `json:"origin_hospital_name"`
	DestinationHospitalID   string     `json:"destination_hospital_id"`
	DestinationHospitalName string     `json:"destination_hospital_name"`
	RoomID                  string     `json:"room_id"`
	RoomName                string     `json:"room_name"`
	Reason                  string     `json:"reason"`
	Status                  string     `json:"status"`
	RequestedBy             string     `json:"requested_by"`
	RequestedAt             time.Time  `json:"requested_at"`
	Justification           string     `json:"justification,omitempty"`
	ResolvedBy              string     `json:"resolved_by,omitempty"`
	ResolvedByName          string     `json:"resolved_by_name,omitempty"`
	ResolvedByRole          string     `json:"resolved_by_role,omitempty"`
	ResolvedAt              *time.Time `json:"resolved_at,omitempty"`
	Warning                 string     `json:"warning,omitempty"`
}

type ResolutionTokenResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	Decision  string           `json:"decision"`
	Transfer  TransferResponse `json:"transfer"`
}

type RoomResponse struct {
	ID         string    `json:"id"`
	HospitalID string    `json:"hospital_id"`
	Name       string    `json:"name"`
	Available  bool      `json:"available"`
	CreatedAt  time.Time `json:"created_at"`
	Warning    string    `json:"warning,omitempty"`
}

type NotificationResponse struct {
	ID         string    `json:"id"`
	Inbox      string    `json:"inbox"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
	TransferID string    `json:"transfer_id,omitempty"`
	RoomID     string    `json:"room_id,omitempty"`
}

type FeedResponse struct {
	Items  []NotificationResponse `json:"items"`
	Unread int                    `json:"unread"`
}

type TimelineEventResponse struct {
	ID                      string    `json:"id"`
	Type                    string    `json:"type"`
	OccurredAt              time.Time `json:"occurred_at"`
	TransferID              string    `json:"transfer_id,omitempty"`
	OriginHospitalName      string    `json:"origin_hospital_name"`
	DestinationHospitalID   string    `json:"destination_hospital_id"`
	DestinationHospitalName string    `json:"destination_hospital_name"`
	RoomID                  string    `json:"room_id"`
	RoomName                string    `json:"room_name"`
	ResponsibleUserID       string    `json:"responsible_user_id"`
	ResponsibleName         string    `json:"responsible_name"`
	ResponsibleRole         string    `json:"responsible_role"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toTransferResponse(r *transfer.Request) TransferResponse {
	return TransferResponse{
		ID:                      r.ID,
		PatientID:               r.Patient.ID,
		PatientName:             r.Patient.Name,
		OriginHospitalID:        r.OriginHospitalID,
		OriginHospitalName:      r.OriginHospitalName,
		DestinationHospitalID:   r.DestinationHospitalID,
		DestinationHospitalName: r.DestinationHospitalName,
		RoomID:                  r.RoomID,
		RoomName:                r.RoomName,
		Reason:                  r.Reason,
		Status:                  string(r.Status),
		RequestedBy:             r.RequestedBy,
		RequestedAt:             r.RequestedAt,
		Justification:           r.Justification,
		ResolvedBy:              r.ResolvedBy,
		ResolvedByName:          r.ResolvedByName,
		ResolvedByRole:          r.ResolvedByRole,
		ResolvedAt:              r.ResolvedAt,
	}
}

func toRoomResponse(r *rooms.Room) RoomResponse {
	return RoomResponse{
		ID:         r.ID,
		HospitalID: r.HospitalID,
		Name:       r.Name,
		Available:  r.Available,
		CreatedAt:  r.CreatedAt,
	}
}

func toFeedResponse(f notification.Feed) FeedResponse {
	items := make([]NotificationResponse, 0, len(f.Items))
	for _, n := range f.Items {
		items = append(items, NotificationResponse{
			ID:         n.ID,
			Inbox:      n.Inbox,
			Title:      n.Title,
			Message:    n.Message,
			Timestamp:  n.Timestamp,
			Read:       n.Read,
			TransferID: n.TransferID,
			RoomID:     n.RoomID,
		})
	}
	return FeedResponse{Items: items, Unread: f.Unread}
}

func toTimelineResponse(events []timeline.Event) []TimelineEventResponse {
	out := make([]TimelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, TimelineEventResponse{
			ID:                      e.ID,
			Type:                    string(e.Type),
			OccurredAt:              e.OccurredAt,
			TransferID:              e.TransferID,
			OriginHospitalName:      e.OriginHospitalName,
			DestinationHospitalID:   e.DestinationHospitalID,
			DestinationHospitalName: e.DestinationHospitalName,
			RoomID:                  e.RoomID,
			RoomName:                e.RoomName,
			ResponsibleUserID:       e.ResponsibleUserID,
			ResponsibleName:         e.ResponsibleName,
			ResponsibleRole:         e.ResponsibleRole,
		})
	}
	return out
}
