package directory

import (
	"slices"

	"github.com/hackgods/hospital-transfers/internal/store"
)

type Role string

const (
	RoleMedico        Role = "medico"
	RoleEnfermeiro    Role = "enfermeiro"
	RoleSupervisor    Role = "supervisor"
	RoleAdministrador Role = "administrador"
)

var allRoles = []Role{RoleMedico, RoleEnfermeiro, RoleSupervisor, RoleAdministrador}

func (r Role) Valid() bool {
	return slices.Contains(allRoles, r)
}

// In reports whether r is one of the given roles.
func (r Role) In(set ...Role) bool {
	return slices.Contains(set, r)
}

type Hospital struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Patient is the subset of the patient record the workflow reads and writes.
// HospitalID is the current-hospital pointer.
type Patient struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	HospitalID string `json:"hospital"`
}

type UserProfile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	HospitalID string `json:"hospital"`
	Email      string `json:"email,omitempty"`
}

type staffEntry struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// indexRef names one hospital+role staff index collection.
type indexRef struct {
	HospitalID string `json:"hospital"`
	Role       Role   `json:"role"`
}

func (r indexRef) path() string {
	return store.StaffIndexPath(r.HospitalID, string(r.Role))
}
