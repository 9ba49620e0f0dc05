package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cradlehq/cradle/pkg/config"
	"github.com/cradlehq/cradle/pkg/events"
	"github.com/cradlehq/cradle/pkg/manager"
	"github.com/cradlehq/cradle/pkg/runtime"
	"github.com/cradlehq/cradle/pkg/storage"
	"github.com/cradlehq/cradle/pkg/types"
)

type apiEnv struct {
	router *gin.Engine
	store  *storage.BoltStore
	fake   *runtime.FakeAdapter
}

func newAPIEnv(t *testing.T, adminToken string) *apiEnv {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fake := runtime.NewFakeAdapter()
	handle := config.NewHandle(store, runtime.FakeFactory(fake))
	require.NoError(t, handle.Load(&config.Snapshot{
		Endpoint:   "unix:///var/run/docker.sock",
		Hostname:   "chal.example.com",
		Expiration: time.Hour,
		Limits:     types.ResourceLimits{Memory: "512m", CPU: "0.5"},
		Assignment: types.AssignmentUser,
	}))

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	mgr := manager.NewManager(store, store, handle, broker)
	server := NewServer(mgr, handle, store, broker, ":0", adminToken)

	require.NoError(t, store.PutChallenge(&types.Challenge{
		ID:    "web-01",
		Name:  "Baby Web",
		Image: "ctf/baby-web:latest",
		Port:  8000,
	}))

	return &apiEnv{router: server.Router(), store: store, fake: fake}
}

func (e *apiEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func asAlice() map[string]string {
	return map[string]string{HeaderUser: "alice"}
}

func TestRequestEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")

	w, body := env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "created", body["status"])
	assert.Equal(t, "chal.example.com", body["hostname"])
	assert.NotZero(t, body["port"])
	assert.NotZero(t, body["expires"])
}

func TestRequestEndpointIdempotent(t *testing.T) {
	env := newAPIEnv(t, "")

	w, first := env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())
	require.Equal(t, http.StatusOK, w.Code)

	w, second := env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_running", second["status"])
	assert.Equal(t, first["port"], second["port"])
}

func TestRequestEndpointErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		headers   map[string]string
		wantCode  int
		wantError string
	}{
		{
			name:      "unknown challenge",
			body:      `{"chal_id":"nope"}`,
			headers:   asAlice(),
			wantCode:  http.StatusBadRequest,
			wantError: "Challenge not found",
		},
		{
			name:      "missing body",
			body:      "",
			headers:   asAlice(),
			wantCode:  http.StatusBadRequest,
			wantError: "Invalid request",
		},
		{
			name:      "malformed body",
			body:      `{"chal_id":`,
			headers:   asAlice(),
			wantCode:  http.StatusBadRequest,
			wantError: "Invalid request",
		},
		{
			name:      "missing identity",
			body:      `{"chal_id":"web-01"}`,
			headers:   nil,
			wantCode:  http.StatusBadRequest,
			wantError: "Invalid request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t, "")
			w, body := env.do(t, http.MethodPost, "/containers/api/request", tt.body, tt.headers)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestRequestEndpointConflictNamesChallenge(t *testing.T) {
	env := newAPIEnv(t, "")
	require.NoError(t, env.store.PutChallenge(&types.Challenge{
		ID:    "pwn-02",
		Name:  "Heap Feng Shui",
		Image: "ctf/pwn:latest",
		Port:  9000,
	}))

	w, _ := env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())
	require.Equal(t, http.StatusOK, w.Code)

	w, body := env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"pwn-02"}`, asAlice())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Stop other instance running (Baby Web)", body["error"])
}

func TestRequestEndpointEngineDown(t *testing.T) {
	env := newAPIEnv(t, "")
	env.fake.Down = true

	w, body := env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Failed to create container", body["error"])
}

func TestRunningEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")

	w, body := env.do(t, http.MethodGet, "/containers/api/running/web-01", "", asAlice())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stopped", body["status"])

	env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())

	w, body = env.do(t, http.MethodGet, "/containers/api/running/web-01", "", asAlice())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_running", body["status"])

	// POST form takes the challenge from the body
	w, body = env.do(t, http.MethodPost, "/containers/api/running", `{"chal_id":"web-01"}`, asAlice())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_running", body["status"])
}

func TestRenewEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())

	w, body := env.do(t, http.MethodPost, "/containers/api/renew", `{"chal_id":"web-01"}`, asAlice())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "renewed", body["status"])

	w, body = env.do(t, http.MethodPost, "/containers/api/renew", `{"chal_id":"web-01"}`, map[string]string{HeaderUser: "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Container not found", body["error"])
}

func TestStopEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())

	w, body := env.do(t, http.MethodPost, "/containers/api/stop", `{"chal_id":"web-01"}`, asAlice())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])

	w, body = env.do(t, http.MethodPost, "/containers/api/stop", `{"chal_id":"web-01"}`, asAlice())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No running container found.", body["error"])
}

func TestResetEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	_, first := env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())

	w, body := env.do(t, http.MethodPost, "/containers/api/reset", `{"chal_id":"web-01"}`, asAlice())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "created", body["status"])
	assert.NotEqual(t, first["port"], body["port"])
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newAPIEnv(t, "hunter2")

	w, body := env.do(t, http.MethodGet, "/containers/api/dashboard", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", body["error"])

	w, _ = env.do(t, http.MethodGet, "/containers/api/dashboard", "", map[string]string{HeaderAdminToken: "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = env.do(t, http.MethodGet, "/containers/api/dashboard", "", map[string]string{HeaderAdminToken: "hunter2"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Player routes are unaffected
	w, _ = env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDashboardEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())

	w, body := env.do(t, http.MethodGet, "/containers/api/dashboard", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["connected"])
	instances, ok := body["instances"].([]any)
	require.True(t, ok)
	assert.Len(t, instances, 1)
}

func TestKillEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())

	inst, err := env.store.FindInstance("web-01", types.UserOwner("alice"))
	require.NoError(t, err)
	require.NotNil(t, inst)

	payload := fmt.Sprintf(`{"container_id":%q}`, inst.ContainerID)
	w, body := env.do(t, http.MethodPost, "/containers/api/kill", payload, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])

	w, body = env.do(t, http.MethodPost, "/containers/api/kill", payload, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Container not found", body["error"])
}

func TestPurgeEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, asAlice())
	env.do(t, http.MethodPost, "/containers/api/request", `{"chal_id":"web-01"}`, map[string]string{HeaderUser: "bob"})

	w, body := env.do(t, http.MethodPost, "/containers/api/purge", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])
	destroyed, ok := body["destroyed"].([]any)
	require.True(t, ok)
	assert.Len(t, destroyed, 2)
	assert.Equal(t, 0, env.fake.Count())
}

func TestImagesEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")

	w, body := env.do(t, http.MethodGet, "/containers/api/images", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	images, ok := body["images"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, images)
}

func TestSettingsEndpoints(t *testing.T) {
	env := newAPIEnv(t, "")

	w, body := env.do(t, http.MethodGet, "/containers/api/settings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user", body[config.KeyAssignment])

	update := map[string]any{}
	for k, v := range body {
		update[k] = v
	}
	update[config.KeyAssignment] = "team"
	payload, err := json.Marshal(update)
	require.NoError(t, err)

	w, body = env.do(t, http.MethodPost, "/containers/api/settings/update", string(payload), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, body = env.do(t, http.MethodGet, "/containers/api/settings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "team", body[config.KeyAssignment])
}

func TestSettingsUpdateRejectsPartial(t *testing.T) {
	env := newAPIEnv(t, "")

	w, body := env.do(t, http.MethodPost, "/containers/api/settings/update",
		`{"docker_assignment":"team"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "incomplete configuration")
}

func TestChallengeEndpoints(t *testing.T) {
	env := newAPIEnv(t, "")

	payload := `[{"id":"pwn-02","name":"Heap Feng Shui","image":"ctf/pwn:latest","port":9000}]`
	w, body := env.do(t, http.MethodPost, "/containers/api/challenges", payload, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["applied"])

	w, body = env.do(t, http.MethodGet, "/containers/api/challenges", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	challenges, ok := body["challenges"].([]any)
	require.True(t, ok)
	assert.Len(t, challenges, 2)

	w, _ = env.do(t, http.MethodDelete, "/containers/api/challenges/pwn-02", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodGet, "/containers/api/challenges", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	challenges = body["challenges"].([]any)
	assert.Len(t, challenges, 1)
}

func TestChallengeValidation(t *testing.T) {
	env := newAPIEnv(t, "")

	w, body := env.do(t, http.MethodPost, "/containers/api/challenges",
		`[{"id":"bad","image":"","port":0}]`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "requires id, image and a positive port")
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")

	w, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	env.fake.Down = true
	w, body = env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cradle_")
}
