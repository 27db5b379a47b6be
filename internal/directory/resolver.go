package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/apperr"
	"github.com/hackgods/hospital-transfers/internal/store"
)

// Directory resolves reference data (hospitals, patients, staff) that the
// workflow addresses by id.
type Directory struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store, log *zap.Logger) *Directory {
	return &Directory{store: st, log: log}
}

// ResolveHospitalIDByName scans the hospital collection in key order and
// returns the id of the first hospital with that exact name.
func (d *Directory) ResolveHospitalIDByName(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", apperr.Validation("hospital name is required")
	}

	snap, err := d.store.Read(ctx, store.Hospitals)
	if err != nil {
		return "", err
	}

	for _, key := range snap.Keys() {
		var h Hospital
		if err := snap.Child(key).Decode(&h); err != nil {
			return "", err
		}
		if h.Name == name {
			return key, nil
		}
	}
	return "", apperr.NotFound("hospital named %q", name)
}

func (d *Directory) Hospital(ctx context.Context, id string) (*Hospital, error) {
	var h Hospital
	if err := d.get(ctx, store.HospitalPath(id), "hospital", id, &h); err != nil {
		return nil, err
	}
	h.ID = id
	return &h, nil
}

func (d *Directory) Hospitals(ctx context.Context) ([]Hospital, error) {
	snap, err := d.store.Read(ctx, store.Hospitals)
	if err != nil {
		return nil, err
	}
	var out []Hospital
	err = store.DecodeAll(snap, func(key string, h Hospital) {
		h.ID = key
		out = append(out, h)
	})
	return out, err
}

func (d *Directory) Patient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	if err := d.get(ctx, store.PatientPath(id), "patient", id, &p); err != nil {
		return nil, err
	}
	p.ID = id
	return &p, nil
}

// ResolveUserProfile returns the stored profile of a signed-in user.
func (d *Directory) ResolveUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var u UserProfile
	if err := d.get(ctx, store.UserPath(userID), "user", userID, &u); err != nil {
		return nil, err
	}
	u.ID = userID
	return &u, nil
}

func (d *Directory) AddHospital(ctx context.Context, name string) (*Hospital, error) {
	if name == "" {
		return nil, apperr.Validation("hospital name is required")
	}
	id, err := d.store.Append(ctx, store.Hospitals, Hospital{Name: name})
	if err != nil {
		return nil, err
	}
	h := &Hospital{ID: id, Name: name}
	if err := d.store.Merge(ctx, store.HospitalPath(id), map[string]any{"id": id}); err != nil {
		return nil, err
	}
	return h, nil
}

func (d *Directory) AddPatient(ctx context.Context, name, hospitalID string) (*Patient, error) {
	if err := apperr.Required("name", name, "hospital", hospitalID); err != nil {
		return nil, err
	}
	id, err := d.store.Append(ctx, store.Patients, Patient{Name: name, HospitalID: hospitalID})
	if err != nil {
		return nil, err
	}
	if err := d.store.Merge(ctx, store.PatientPath(id), map[string]any{"id": id}); err != nil {
		return nil, err
	}
	return &Patient{ID: id, Name: name, HospitalID: hospitalID}, nil
}

// MovePatient points the patient's current-hospital field at hospitalID.
func (d *Directory) MovePatient(ctx context.Context, patientID, hospitalID string) error {
	return d.store.Merge(ctx, store.PatientPath(patientID), map[string]any{"hospital": hospitalID})
}

// RegisterUser stores a profile and keeps the hospital+role staff index in
// step with it.
func (d *Directory) RegisterUser(ctx context.Context, u UserProfile) error {
	if err := apperr.Required("id", u.ID, "name", u.Name, "hospital", u.HospitalID); err != nil {
		return err
	}
	if !u.Role.Valid() {
		return apperr.Validation("unknown role %q", u.Role)
	}

	prev, err := d.ResolveUserProfile(ctx, u.ID)
	switch {
	case err == nil:
		if prev.HospitalID != u.HospitalID || prev.Role != u.Role {
			if err := d.store.Delete(ctx, store.StaffIndexPath(prev.HospitalID, string(prev.Role))+"/"+u.ID); err != nil {
				return fmt.Errorf("drop stale staff index entry: %w", err)
			}
		}
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	if err := d.store.Write(ctx, store.UserPath(u.ID), u); err != nil {
		return err
	}
	return d.index(ctx, u)
}

func (d *Directory) index(ctx context.Context, u UserProfile) error {
	ref := indexRef{HospitalID: u.HospitalID, Role: u.Role}
	if err := d.store.Write(ctx, store.StaffIndexKeyPath(ref.HospitalID, string(ref.Role)), ref); err != nil {
		return err
	}
	return d.store.Write(ctx, ref.path()+"/"+u.ID, staffEntry{UserID: u.ID, Name: u.Name})
}

// StaffAt returns the ids of users at hospitalID holding any of the given
// roles, read from the staff index.
func (d *Directory) StaffAt(ctx context.Context, hospitalID string, roles ...Role) ([]string, error) {
	seen := make(map[string]struct{})
	for _, role := range roles {
		snap, err := d.store.Read(ctx, store.StaffIndexPath(hospitalID, string(role)))
		if err != nil {
			return nil, err
		}
		for _, key := range snap.Keys() {
			seen[key] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RebuildStaffIndex reconciles every hospital+role index collection with the
// user collection: missing entries are written first, then stale ones are
// removed, so a user who stays indexed never drops out of StaffAt while it
// runs. It returns the number of users indexed.
func (d *Directory) RebuildStaffIndex(ctx context.Context) (int, error) {
	snap, err := d.store.Read(ctx, store.Users)
	if err != nil {
		return 0, err
	}

	wanted := make(map[indexRef]map[string]staffEntry)
	count := 0
	for _, key := range snap.Keys() {
		var u UserProfile
		if err := snap.Child(key).Decode(&u); err != nil {
			d.log.Warn("skipping undecodable user profile", zap.String("user_id", key), zap.Error(err))
			continue
		}
		if !u.Role.Valid() || u.HospitalID == "" {
			continue
		}
		ref := indexRef{HospitalID: u.HospitalID, Role: u.Role}
		if wanted[ref] == nil {
			wanted[ref] = make(map[string]staffEntry)
		}
		wanted[ref][key] = staffEntry{UserID: key, Name: u.Name}
		count++
	}

	refs, err := d.indexedCollections(ctx)
	if err != nil {
		return 0, err
	}
	for ref := range wanted {
		refs[ref] = struct{}{}
	}

	ordered := make([]indexRef, 0, len(refs))
	for ref := range refs {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].path() < ordered[j].path() })

	for _, ref := range ordered {
		if err := d.reconcile(ctx, ref, wanted[ref]); err != nil {
			return count, fmt.Errorf("reconcile %s: %w", ref.path(), err)
		}
	}
	return count, nil
}

// indexedCollections lists the index collections that may hold entries: every
// one recorded under StaffIndexKeys, including those of hospitals since
// removed, plus every role of every current hospital.
func (d *Directory) indexedCollections(ctx context.Context) (map[indexRef]struct{}, error) {
	refs := make(map[indexRef]struct{})

	snap, err := d.store.Read(ctx, store.StaffIndexKeys)
	if err != nil {
		return nil, err
	}
	for _, key := range snap.Keys() {
		var ref indexRef
		if err := snap.Child(key).Decode(&ref); err != nil || ref.HospitalID == "" {
			d.log.Warn("skipping undecodable staff index key", zap.String("key", key), zap.Error(err))
			continue
		}
		refs[ref] = struct{}{}
	}

	hospitals, err := d.Hospitals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	for _, h := range hospitals {
		for _, role := range allRoles {
			refs[indexRef{HospitalID: h.ID, Role: role}] = struct{}{}
		}
	}
	return refs, nil
}

func (d *Directory) reconcile(ctx context.Context, ref indexRef, want map[string]staffEntry) error {
	path := ref.path()
	snap, err := d.store.Read(ctx, path)
	if err != nil {
		return err
	}
	keyPath := store.StaffIndexKeyPath(ref.HospitalID, string(ref.Role))

	if len(want) > 0 {
		if err := d.store.Write(ctx, keyPath, ref); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		var cur staffEntry
		if err := snap.Child(id).Decode(&cur); err == nil && cur == want[id] {
			continue
		}
		if err := d.store.Write(ctx, path+"/"+id, want[id]); err != nil {
			return err
		}
	}

	for _, key := range snap.Keys() {
		if _, ok := want[key]; ok {
			continue
		}
		if err := d.store.Delete(ctx, path+"/"+key); err != nil {
			return err
		}
	}

	if len(want) == 0 {
		return d.store.Delete(ctx, keyPath)
	}
	return nil
}

func (d *Directory) get(ctx context.Context, path, kind, id string, v any) error {
	if id == "" {
		return apperr.Validation("%s id is required", kind)
	}
	snap, err := d.store.Read(ctx, path)
	if err != nil {
		return err
	}
	if !snap.IsRecord() {
		return apperr.NotFound("%s %s", kind, id)
	}
	return snap.Decode(v)
}
