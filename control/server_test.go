package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autoheal/ai"
	"autoheal/memory"
	"autoheal/models"
	"autoheal/remediation"
	"autoheal/state"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHealer struct {
	mock.Mock
}

func (m *mockHealer) Handle(ctx context.Context, event models.FailureEvent) (models.RemediationRecord, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(models.RemediationRecord), args.Error(1)
}

func (m *mockHealer) InFlight() bool {
	return m.Called().Bool(0)
}

type fakeScheduler struct {
	state *state.State
}

func (f *fakeScheduler) Start(ctx context.Context) bool { return f.state.SetMonitoring(true) }
func (f *fakeScheduler) Stop() bool                     { return f.state.SetMonitoring(false) }

type fixedProviders []ai.ProviderStatus

func (f fixedProviders) Providers() []ai.ProviderStatus { return f }

func newTestServer(t *testing.T, healer *mockHealer) (*Server, *state.State, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := state.New(state.Options{AutoFixEnabled: true, OwnerChannelID: "42"})
	store := memory.NewStore("")
	server := NewServer(context.Background(), Deps{
		State:     st,
		Healer:    healer,
		Scheduler: &fakeScheduler{state: st},
		History:   store,
		Providers: fixedProviders{{Name: "Claude", Enabled: true}, {Name: "Gemini", Enabled: false}},
		TargetURL: "https://app.example.com",
	})
	return server, st, store
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t, &mockHealer{})

	w := serve(server, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestStatus(t *testing.T) {
	healer := &mockHealer{}
	healer.On("InFlight").Return(true)
	server, st, store := newTestServer(t, healer)

	code := 503
	st.SetLastCheck(models.HealthCheckResult{Timestamp: time.Now(), StatusCode: &code})
	st.RecordFailure(models.NewFailureEvent(models.AppDown, 503, "https://app.example.com", time.Now()))
	require.NoError(t, store.Record(models.RemediationRecord{ID: "r1", Status: models.StatusQueued, Diagnosis: &models.Diagnosis{RootCause: "x"}}))

	w := serve(server, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://app.example.com", resp.Target)
	assert.True(t, resp.InFlight)
	assert.True(t, resp.State.AutoFixEnabled)
	assert.Len(t, resp.State.ErrorHistory, 1)
	require.NotNil(t, resp.State.LastCheck)
	assert.Equal(t, 503, *resp.State.LastCheck.StatusCode)
	assert.Equal(t, 1, resp.Stats.Diagnosed)
	assert.Equal(t, []ai.ProviderStatus{{Name: "Claude", Enabled: true}, {Name: "Gemini", Enabled: false}}, resp.Providers)
}

func TestHeal(t *testing.T) {
	healer := &mockHealer{}
	healer.On("Handle", mock.Anything, mock.MatchedBy(func(e models.FailureEvent) bool {
		return e.Kind == models.ManualTrigger && e.StatusCode == 502 && e.TargetURL == "https://app.example.com"
	})).Return(models.RemediationRecord{ID: "run-1", Status: models.StatusAwaitingReview}, nil)
	server, st, _ := newTestServer(t, healer)

	code := 502
	st.SetLastCheck(models.HealthCheckResult{StatusCode: &code})

	w := serve(server, http.MethodPost, "/heal")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rec models.RemediationRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, models.StatusAwaitingReview, rec.Status)
	healer.AssertExpectations(t)
}

func TestHeal_ConflictWhenInFlight(t *testing.T) {
	healer := &mockHealer{}
	healer.On("Handle", mock.Anything, mock.Anything).Return(models.RemediationRecord{}, remediation.ErrRemediationInFlight)
	server, _, _ := newTestServer(t, healer)

	w := serve(server, http.MethodPost, "/heal")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already in flight")
}

func TestMonitoringToggles(t *testing.T) {
	server, st, _ := newTestServer(t, &mockHealer{})

	w := serve(server, http.MethodPost, "/monitoring/start")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"monitoring_active":true,"changed":true}`, w.Body.String())
	assert.True(t, st.MonitoringActive())

	w = serve(server, http.MethodPost, "/monitoring/start")
	assert.JSONEq(t, `{"monitoring_active":true,"changed":false}`, w.Body.String())

	w = serve(server, http.MethodPost, "/monitoring/stop")
	assert.JSONEq(t, `{"monitoring_active":false,"changed":true}`, w.Body.String())
}

func TestHistory(t *testing.T) {
	server, _, store := newTestServer(t, &mockHealer{})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(models.RemediationRecord{ID: id, Status: models.StatusQueued}))
	}

	w := serve(server, http.MethodGet, "/history?limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records []models.RemediationRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Records, 2)
	assert.Equal(t, "c", body.Records[0].ID)

	w = serve(server, http.MethodGet, "/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryRecord(t *testing.T) {
	server, _, store := newTestServer(t, &mockHealer{})
	require.NoError(t, store.Record(models.RemediationRecord{ID: "run-7", Status: models.StatusMerged}))

	w := serve(server, http.MethodGet, "/history/run-7")
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.RemediationRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, models.StatusMerged, rec.Status)

	w = serve(server, http.MethodGet, "/history/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestDrainQueue(t *testing.T) {
	server, st, _ := newTestServer(t, &mockHealer{})
	st.EnqueueFix(models.Diagnosis{RootCause: "db down", Severity: models.SeverityCritical})
	st.EnqueueFix(models.Diagnosis{RootCause: "port", Severity: models.SeverityHigh})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	client := NewClient(ts.URL, time.Second)

	fixes, err := client.DrainQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	assert.Equal(t, "db down", fixes[0].RootCause)
	assert.Empty(t, st.Snapshot().FixQueue)

	fixes, err = client.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestClient_AgainstServer(t *testing.T) {
	healer := &mockHealer{}
	healer.On("InFlight").Return(false)
	healer.On("Handle", mock.Anything, mock.Anything).Return(models.RemediationRecord{}, remediation.ErrRemediationInFlight)
	server, _, _ := newTestServer(t, healer)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	client := NewClient(ts.URL, time.Second)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com", status.Target)

	_, err = client.Heal(context.Background())
	assert.ErrorContains(t, err, "409 remediation already in flight")

	_, err = client.Record(context.Background(), "nope")
	assert.ErrorContains(t, err, "404")
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	server, _, _ := newTestServer(t, &mockHealer{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
