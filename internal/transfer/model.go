package transfer

import (
	"time"

	"github.com/hackgods/hospital-transfers/internal/directory"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// IsDecision reports whether s is a terminal resolution.
func (s Status) IsDecision() bool {
	return s == StatusApproved || s == StatusDenied
}

type PatientRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Request is a transfer request as stored under its destination hospital.
// OriginHospitalName is kept next to OriginHospitalID because existing
// records carry only the name.
type Request struct {
	ID                      string     `json:"id,omitempty"`
	Patient                 PatientRef `json:"patient"`
	OriginHospitalID        string     `json:"originHospitalId,omitempty"`
	OriginHospitalName      string     `json:"originHospitalName"`
	DestinationHospitalID   string     `json:"destinationHospitalId"`
	DestinationHospitalName string     `json:"destinationHospitalName"`
	RoomID                  string     `json:"roomId"`
	RoomName                string     `json:"roomName"`
	Reason                  string     `json:"reason"`
	Status                  Status     `json:"status"`
	RequestedBy             string     `json:"requestedBy"`
	RequestedByName         string     `json:"requestedByName,omitempty"`
	RequestedAt             time.Time  `json:"requestedAt"`
	Justification           string     `json:"justification,omitempty"`
	ResolvedBy              string     `json:"resolvedBy,omitempty"`
	ResolvedByName          string     `json:"resolvedByName,omitempty"`
	ResolvedByRole          string     `json:"resolvedByRole,omitempty"`
	ResolvedAt              *time.Time `json:"resolvedAt,omitempty"`
}

// Actor identifies the staff member performing a transition.
type Actor struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Role directory.Role `json:"role"`
}

// ActorFrom builds an Actor from a directory profile.
func ActorFrom(u directory.UserProfile) Actor {
	return Actor{ID: u.ID, Name: u.Name, Role: u.Role}
}

type Submission struct {
	PatientID             string
	DestinationHospitalID string
	RoomID                string
	Reason                string
	RequestedBy           string
}

type Resolution struct {
	TransferID            string
	DestinationHospitalID string
	Decision              Status
	Justification         string
	ResolvedBy            Actor
}

// Intent is a resolution that has been started but not yet confirmed with a
// justification.
type Intent struct {
	TransferID            string `json:"transferId"`
	DestinationHospitalID string `json:"destinationHospitalId"`
	Decision              Status `json:"decision"`
	ResolvedBy            Actor  `json:"resolvedBy"`
}

// PendingResolution is returned by BeginResolution.
type PendingResolution struct {
	Token     string
	ExpiresAt time.Time
	Intent    Intent
	Request   *Request
}
