package notification

import (
	"strings"
	"time"

	"github.com/hackgods/hospital-transfers/internal/directory"
)

// Inbox key prefixes. A supervisor inbox is shared by every supervisor of a
// hospital; reply and staff inboxes belong to one user.
const (
	supervisorPrefix = "supervisor_"
	replyPrefix      = "resposta_"
	staffPrefix      = "medico_"
)

func SupervisorInbox(hospitalID string) string { return supervisorPrefix + hospitalID }

func ReplyInbox(userID string) string { return replyPrefix + userID }

func StaffInbox(userID string) string { return staffPrefix + userID }

// Kind returns the inbox class, used as a metrics label.
func Kind(inbox string) string {
	switch {
	case strings.HasPrefix(inbox, supervisorPrefix):
		return "supervisor"
	case strings.HasPrefix(inbox, replyPrefix):
		return "reply"
	case strings.HasPrefix(inbox, staffPrefix):
		return "staff"
	}
	return "other"
}

// InboxesFor lists every inbox a user reads from.
func InboxesFor(u directory.UserProfile) []string {
	var inboxes []string
	if u.Role == directory.RoleSupervisor {
		inboxes = append(inboxes, SupervisorInbox(u.HospitalID))
	}
	inboxes = append(inboxes, ReplyInbox(u.ID))
	if u.Role.In(directory.RoleMedico, directory.RoleSupervisor) {
		inboxes = append(inboxes, StaffInbox(u.ID))
	}
	return inboxes
}

// Owns reports whether u may read or clear inbox.
func Owns(u directory.UserProfile, inbox string) bool {
	for _, own := range InboxesFor(u) {
		if own == inbox {
			return true
		}
	}
	return false
}

type Notification struct {
	ID         string    `json:"-"`
	Inbox      string    `json:"-"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
	TransferID string    `json:"transferId,omitempty"`
	RoomID     string    `json:"roomId,omitempty"`
}

// Message is what a sender supplies; the dispatcher stamps the rest.
type Message struct {
	Title      string
	Message    string
	TransferID string
	RoomID     string
}

// Feed is the merged view over several inboxes, newest first.
type Feed struct {
	Items  []Notification
	Unread int
}
