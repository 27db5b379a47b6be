package store

// Top-level collections. The names match the data already written by the
// existing clients, so they stay as they are.
const (
	Hospitals     = "hospitais"
	Rooms         = "comodos"
	Patients      = "pacientes"
	Users         = "users"
	Transfers     = "transferencias"
	MedicalFiles  = "prontuarios"
	Notifications = "notifications"
	StaffIndex    = "indices/staff"

	// StaffIndexKeys holds one record per hospital+role index collection
	// ever written, so stale collections can be found after their hospital
	// is gone.
	StaffIndexKeys = "indices/staff_keys"
)

func HospitalPath(id string) string { return Hospitals + "/" + id }

func RoomPath(id string) string { return Rooms + "/" + id }

func PatientPath(id string) string { return Patients + "/" + id }

func UserPath(id string) string { return Users + "/" + id }

// TransfersPath is the per-destination collection holding every request
// addressed to that hospital.
func TransfersPath(destinationHospitalID string) string {
	return Transfers + "/hospital_" + destinationHospitalID
}

func TransferPath(destinationHospitalID, transferID string) string {
	return TransfersPath(destinationHospitalID) + "/" + transferID
}

func TimelinePath(patientID string) string {
	return MedicalFiles + "/" + patientID + "/eventos"
}

func InboxPath(inbox string) string { return Notifications + "/" + inbox }

func NotificationPath(inbox, id string) string { return InboxPath(inbox) + "/" + id }

func StaffIndexPath(hospitalID, role string) string {
	return StaffIndex + "/" + hospitalID + "_" + role
}

func StaffIndexKeyPath(hospitalID, role string) string {
	return StaffIndexKeys + "/" + hospitalID + "_" + role
}
