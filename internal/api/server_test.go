package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"machine/internal/authkey"
	"machine/internal/events"
	"machine/internal/ingress"
	"machine/internal/logging"
	"machine/internal/machine"
	"machine/internal/tasks"
	"machine/internal/testsupport"
)

type fixture struct {
	store  *tasks.Store
	worker *machine.Worker
	bus    *events.MemoryBus
	keys   *authkey.Store
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(token))
	store := testsupport.MustOpenStore(t, cfg)
	bus := events.NewMemoryBus(cfg.Broker.EventsExchange, logging.NewNop())
	worker := machine.New(cfg, store, bus, logging.NewNop())
	keys := &authkey.Store{}
	handlers := ingress.New(store, worker, keys, nil, logging.NewNop())

	srv := NewServer(cfg.Paths.APIBind, cfg.Paths.APIToken, Deps{
		Store:   store,
		Worker:  worker,
		Ingress: handlers,
		Bus:     bus,
	}, logging.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{store: store, worker: worker, bus: bus, keys: keys, server: srv, http: ts}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeJSON[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestHealthReportsDependencies(t *testing.T) {
	f := newFixture(t, "")

	resp, body := f.do(t, http.MethodGet, "/machine/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeJSON[HealthResponse](t, body)
	assert.Equal(t, "ok", health.Detail)
	assert.Equal(t, "ok", health.Database)
	assert.Equal(t, "ok", health.Broker)
	assert.False(t, health.PublicKeyLoaded)

	f.keys.Set("key-1")
	require.NoError(t, f.bus.Close())

	resp, body = f.do(t, http.MethodGet, "/machine/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	health = decodeJSON[HealthResponse](t, body)
	assert.Equal(t, "degraded", health.Detail)
	assert.Equal(t, events.ErrClosed.Error(), health.Broker)
	assert.True(t, health.PublicKeyLoaded)
}

func TestProduceThenStatusShowsQueue(t *testing.T) {
	f := newFixture(t, "")

	resp, body := f.do(t, http.MethodPost, "/machine/produce", `{"requester_id": 12, "quantity": 2}`, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	result := decodeJSON[ingress.ProduceResult](t, body)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 2, result.Enqueued)

	resp, body = f.do(t, http.MethodGet, "/machine/status", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeJSON[StatusResponse](t, body)
	assert.Equal(t, string(machine.StateIdle), status.Status)
	assert.Nil(t, status.WorkingPiece)
	assert.Equal(t, 2, status.QueueSize)
	assert.Equal(t, []PieceRef{{PieceID: "12-1", PieceType: "A"}, {PieceID: "12-2", PieceType: "A"}}, status.Queue)
}

func TestProduceRejectsBadRequests(t *testing.T) {
	f := newFixture(t, "")
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"no identity", `{}`},
		{"wrong type", `{"piece_id": "1", "piece_type": "B"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/machine/produce", tc.body, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decodeJSON[ErrorResponse](t, body).Error)
		})
	}
}

func TestTaskListingAndLookup(t *testing.T) {
	f := newFixture(t, "")
	testsupport.NewTask(t, f.store, "1", "A")
	second := testsupport.NewTask(t, f.store, "2", "A")
	testsupport.MustTransition(t, f.store, second.Key(), tasks.StatusQueued, tasks.StatusWorking)

	resp, body := f.do(t, http.MethodGet, "/machine/tasks", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSON[TaskListResponse](t, body).Tasks, 2)

	resp, body = f.do(t, http.MethodGet, "/machine/tasks?status=working", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeJSON[TaskListResponse](t, body)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "2", list.Tasks[0].PieceID)
	assert.NotEmpty(t, list.Tasks[0].StartedAt)

	resp, _ = f.do(t, http.MethodGet, "/machine/tasks?status=bogus", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/machine/tasks/1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := decodeJSON[TaskResponse](t, body).Task
	assert.Equal(t, "QUEUED", task.Status)
	assert.Equal(t, "A", task.PieceType)

	resp, _ = f.do(t, http.MethodGet, "/machine/tasks/404", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelOutcomes(t *testing.T) {
	f := newFixture(t, "")
	testsupport.NewTask(t, f.store, "1", "A")
	working := testsupport.NewTask(t, f.store, "2", "A")
	testsupport.MustTransition(t, f.store, working.Key(), tasks.StatusQueued, tasks.StatusWorking)

	resp, body := f.do(t, http.MethodPost, "/machine/tasks/1/cancel", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decodeJSON[CancelResponse](t, body)
	assert.True(t, cancelled.Cancelled)
	require.NotNil(t, cancelled.Task)
	assert.Equal(t, "CANCELLED", cancelled.Task.Status)

	resp, body = f.do(t, http.MethodPost, "/machine/tasks/2/cancel", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	refused := decodeJSON[CancelResponse](t, body)
	assert.False(t, refused.Cancelled)
	assert.Equal(t, machine.ReasonWorking, refused.Reason)

	resp, body = f.do(t, http.MethodPost, "/machine/tasks/9/cancel", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, machine.ReasonNotFound, decodeJSON[CancelResponse](t, body).Reason)

	current := testsupport.MustGet(t, f.store, working.Key())
	assert.Equal(t, tasks.StatusWorking, current.Status, "a WORKING piece runs to completion")
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, "secret")

	resp, _ := f.do(t, http.MethodGet, "/machine/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/machine/status", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/machine/status", "", "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/machine/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays open for probes")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "secret")

	resp, body := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, "")
	resp, body := f.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", decodeJSON[ErrorResponse](t, body).Error)

	resp, _ = f.do(t, http.MethodDelete, "/machine/status", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerStartStop(t *testing.T) {
	f := newFixture(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.server.Start(ctx))
	addr := f.server.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/machine/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.server.Stop()
	f.server.Stop()
	assert.Empty(t, f.server.Addr())
}

func TestDisabledServer(t *testing.T) {
	srv := NewServer("", "", Deps{}, nil)
	require.NoError(t, srv.Start(context.Background()))
	assert.Empty(t, srv.Addr())
	srv.Stop()
}
