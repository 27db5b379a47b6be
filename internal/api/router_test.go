package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/audit"
	"github.com/hackgods/hospital-transfers/internal/config"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/metrics"
	"github.com/hackgods/hospital-transfers/internal/notification"
	redisclient "github.com/hackgods/hospital-transfers/internal/redis"
	"github.com/hackgods/hospital-transfers/internal/rooms"
	"github.com/hackgods/hospital-transfers/internal/store"
	"github.com/hackgods/hospital-transfers/internal/timeline"
	"github.com/hackgods/hospital-transfers/internal/transfer"
)

type testEnv struct {
	handler    http.Handler
	dispatcher *notification.Dispatcher
	origin     string
	dest       string
	room       string
	patient    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	st := store.NewMemory()
	dir := directory.New(st, log)
	dispatcher := notification.NewDispatcher(st, log, notification.WithMetrics(m))
	tracker := rooms.NewTracker(st, dir, dispatcher, m, log)
	recorder := timeline.New(st, log)
	auditLog := audit.NewMemory()
	cfg := config.Config{LockTTL: 5 * time.Second, ResolutionTTL: 10 * time.Minute}

	svc := transfer.NewService(transfer.Deps{
		Store:     st,
		Directory: dir,
		Rooms:     tracker,
		Notifier:  dispatcher,
		Timeline:  recorder,
		Locker:    redisclient.NewRedisLocker(client, cfg.LockTTL),
		Tokens:    redisclient.NewRedisTokenStore(client, "resolution"),
		Audit:     auditLog,
		Metrics:   m,
	}, cfg, log)

	origin, err := dir.AddHospital(ctx, "Hospital Central")
	require.NoError(t, err)
	dest, err := dir.AddHospital(ctx, "Hospital Norte")
	require.NoError(t, err)
	room, err := tracker.AddRoom(ctx, dest.ID, "R5")
	require.NoError(t, err)
	patient, err := dir.AddPatient(ctx, "P001", origin.ID)
	require.NoError(t, err)

	users := []directory.UserProfile{
		{ID: "nurse1", Name: "Joana", Role: directory.RoleEnfermeiro, HospitalID: origin.ID},
		{ID: "sup1", Name: "Ana", Role: directory.RoleSupervisor, HospitalID: dest.ID},
		{ID: "sup2", Name: "Rui", Role: directory.RoleSupervisor, HospitalID: dest.ID},
		{ID: "med1", Name: "Bruno", Role: directory.RoleMedico, HospitalID: dest.ID},
		{ID: "admin", Name: "Lia", Role: directory.RoleAdministrador, HospitalID: origin.ID},
	}
	for _, u := range users {
		require.NoError(t, dir.RegisterUser(ctx, u))
	}

	handler := NewRouter(RouterConfig{
		Transfers:     svc,
		Rooms:         tracker,
		Notifications: dispatcher,
		Timeline:      recorder,
		Directory:     dir,
		Audit:         auditLog,
		Gatherer:      reg,
		Redis:         client,
		Log:           log,
		Env:           "test",
		Version:       "dev",
	})

	return &testEnv{
		handler:    handler,
		dispatcher: dispatcher,
		origin:     origin.ID,
		dest:       dest.ID,
		room:       room.ID,
		patient:    patient.ID,
	}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) submit(t *testing.T) TransferResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/transfers", "nurse1", CreateTransferRequest{
		PatientID:             e.patient,
		DestinationHospitalID: e.dest,
		RoomID:                e.room,
		Reason:                "ICU bed needed",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TransferResponse](t, rec)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = e.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Dependencies["redis"])

	e.submit(t)
	rec = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transfers_submitted_total 1")
}

func TestCallerIdentityRequired(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/notifications", "ghost", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[ErrorResponse](t, rec).Error)
}

func TestTransferApprovalFlow(t *testing.T) {
	e := newTestEnv(t)
	created := e.submit(t)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "Hospital Central", created.OriginHospitalName)

	base := "/hospitals/" + e.dest + "/transfers"

	rec := e.do(t, http.MethodGet, base+"?status=pending", "sup1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TransferResponse](t, rec), 1)

	rec = e.do(t, http.MethodGet, base, "nurse1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	resolve := ResolveTransferRequest{Decision: "approved", Justification: "Bed confirmed"}
	rec = e.do(t, http.MethodPost, base+"/"+created.ID+"/resolve", "med1", resolve)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, base+"/"+created.ID+"/resolve", "sup1", resolve)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[TransferResponse](t, rec)
	assert.Equal(t, "approved", resolved.Status)
	assert.Empty(t, resolved.Warning)

	rec = e.do(t, http.MethodPost, base+"/"+created.ID+"/resolve", "sup2",
		ResolveTransferRequest{Decision: "denied", Justification: "Late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_resolved", decode[ErrorResponse](t, rec).Error)

	rec = e.do(t, http.MethodGet, "/patients/"+e.patient+"/timeline", "sup1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]TimelineEventResponse](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, "transfer_exit", events[0].Type)
	assert.Equal(t, "transfer_entry", events[1].Type)

	rec = e.do(t, http.MethodGet, base+"/"+created.ID+"/events", "sup1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[[]audit.Event](t, rec)
	require.Len(t, trail, 3)
	assert.Equal(t, transfer.EventTransferSubmitted, trail[0].EventType)
	assert.Equal(t, transfer.EventTransferApproved, trail[1].EventType)
	assert.Equal(t, transfer.EventResolutionConflict, trail[2].EventType)

	rec = e.do(t, http.MethodGet, base+"?status=pending", "sup1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]TransferResponse](t, rec))

	rec = e.do(t, http.MethodGet, base+"/"+created.ID, "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decode[TransferResponse](t, rec).Status)
}

func TestSubmitValidation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/transfers", "nurse1", CreateTransferRequest{
		PatientID:             e.patient,
		DestinationHospitalID: e.dest,
		RoomID:                e.room,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[ErrorResponse](t, rec).Error)

	rec = e.do(t, http.MethodPost, "/transfers", "nurse1", CreateTransferRequest{
		PatientID:             "missing",
		DestinationHospitalID: e.dest,
		RoomID:                e.room,
		Reason:                "ICU bed needed",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader("{"))
	req.Header.Set(UserHeader, "nurse1")
	raw := httptest.NewRecorder()
	e.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestTwoPhaseResolutionEndpoints(t *testing.T) {
	e := newTestEnv(t)
	created := e.submit(t)
	base := "/hospitals/" + e.dest + "/transfers/" + created.ID

	rec := e.do(t, http.MethodPost, base+"/resolution", "sup1", BeginResolutionRequest{Decision: "denied"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	begun := decode[ResolutionTokenResponse](t, rec)
	require.NotEmpty(t, begun.Token)
	assert.Equal(t, "pending", begun.Transfer.Status)

	rec = e.do(t, http.MethodPost, "/resolutions/"+begun.Token, "sup2", CompleteResolutionRequest{Justification: "No staff available"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/resolutions/"+begun.Token, "sup1", CompleteResolutionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/resolutions/"+begun.Token, "sup1", CompleteResolutionRequest{Justification: "No staff available"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "denied", decode[TransferResponse](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/resolutions/"+begun.Token, "sup1", CompleteResolutionRequest{Justification: "again"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/rooms?available=true", "sup1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]RoomResponse](t, rec), 1)

	rec = e.do(t, http.MethodGet, "/rooms?hospital_id=all", "nurse1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(t, http.MethodGet, "/rooms?hospital_id=all", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RoomResponse](t, rec), 1)

	occupied := false
	path := "/rooms/" + e.room + "/availability"

	rec = e.do(t, http.MethodPut, path, "med1", SetAvailabilityRequest{Available: &occupied})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPut, path, "nurse1", SetAvailabilityRequest{Available: &occupied})
	assert.Equal(t, http.StatusForbidden, rec.Code, "nurse of another hospital")

	rec = e.do(t, http.MethodPut, path, "sup1", SetAvailabilityRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, path, "sup1", SetAvailabilityRequest{Available: &occupied})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[RoomResponse](t, rec).Available)

	rec = e.do(t, http.MethodGet, "/notifications", "med1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decode[FeedResponse](t, rec)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, "medico_med1", feed.Items[0].Inbox)
	assert.Equal(t, e.room, feed.Items[0].RoomID)

	rec = e.do(t, http.MethodGet, "/rooms?available=true", "sup1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]RoomResponse](t, rec))
}

func TestNotificationEndpoints(t *testing.T) {
	e := newTestEnv(t)
	created := e.submit(t)

	rec := e.do(t, http.MethodGet, "/notifications", "sup1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decode[FeedResponse](t, rec)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, 1, feed.Unread)
	assert.Equal(t, created.ID, feed.Items[0].TransferID)

	inbox := feed.Items[0].Inbox
	rec = e.do(t, http.MethodPost, "/notifications/"+inbox+"/"+feed.Items[0].ID+"/read", "nurse1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/notifications/"+inbox+"/"+feed.Items[0].ID+"/read", "sup1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodPost, "/notifications/"+inbox+"/missing/read", "sup1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/notifications", "sup2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[FeedResponse](t, rec).Unread, "supervisor inbox is shared")

	rec = e.do(t, http.MethodDelete, "/notifications/"+inbox, "sup1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/notifications", "sup1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[FeedResponse](t, rec).Items)
}

func TestNotificationStream(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set(UserHeader, "sup1")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() FeedResponse {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var feed FeedResponse
				require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &feed))
				return feed
			}
		}
	}

	initial := next()
	assert.Empty(t, initial.Items)

	_, err = e.dispatcher.Notify(context.Background(), notification.SupervisorInbox(e.dest), notification.Message{
		Title:   "New transfer request",
		Message: "Patient: P001",
	})
	require.NoError(t, err)

	updated := next()
	require.Len(t, updated.Items, 1)
	assert.Equal(t, 1, updated.Unread)
}
