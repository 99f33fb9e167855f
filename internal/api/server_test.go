package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/ratelimit"
	_ "github.com/MJE43/eden-env/internal/sandbox"
	"github.com/MJE43/eden-env/internal/store"
)

const worldDir = "../sandbox/testdata/world"

func newTestServer(t *testing.T, opts Options) (*Server, http.Handler) {
	t.Helper()
	opts.Logger = log.New(io.Discard, "", 0)
	s := NewServer(opts)
	t.Cleanup(func() { s.Close() })
	return s, s.Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createEnv(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/envs", CreateEnvRequest{Config: worldDir})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["id"].(string)
}

func envPath(id, op string) string {
	return "/api/v1/envs/" + id + "/" + op
}

func TestHealthAndVersion(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["alive"])

	rec = do(t, h, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["version"])
}

func TestCreateEnv(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := do(t, h, http.MethodPost, "/api/v1/envs", CreateEnvRequest{Config: worldDir})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "sandbox", body["kind"])
	assert.Equal(t, []any{3.0}, body["agent_count"])
}

func TestCreateEnvErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		typ    string
	}{
		{"missing config", map[string]any{}, http.StatusBadRequest, ErrTypeInvalidParams},
		{"unknown kind", CreateEnvRequest{Kind: "nonesuch", Config: worldDir}, http.StatusBadRequest, ErrTypeInvalidParams},
		{"missing config dir", CreateEnvRequest{Config: filepath.Join(t.TempDir(), "nope")}, http.StatusUnprocessableEntity, ErrTypeEngine},
		{"malformed json", json.RawMessage(`{"config":`), http.StatusBadRequest, ErrTypeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newTestServer(t, Options{})
			var rec *httptest.ResponseRecorder
			if raw, ok := tt.body.(json.RawMessage); ok {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/envs", bytes.NewReader(raw))
				rec = httptest.NewRecorder()
				h.ServeHTTP(rec, req)
			} else {
				rec = do(t, h, http.MethodPost, "/api/v1/envs", tt.body)
			}
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, tt.typ, body["type"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestEnvLifecycle(t *testing.T) {
	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)

	rec := do(t, h, http.MethodPost, envPath(id, "reset"), ResetRequest{Seed: 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, envPath(id, "update"), UpdateRequest{Action: [][]float64{{8, 4, 1}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, envPath(id, "observe"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	obs := decode(t, rec)["observation"].([]any)
	require.Len(t, obs, 3)
	if diff := cmp.Diff([]any{0.0, 1.0, 100.0, 1.0, 2.0, 1.0}, obs[0]); diff != "" {
		t.Errorf("observation[0] mismatch (-want +got):\n%s", diff)
	}

	rec = do(t, h, http.MethodGet, envPath(id, "result"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode(t, rec)["result"].([]any)
	if diff := cmp.Diff([]any{8.0, 0.0, 0.0, 1.0}, res[0]); diff != "" {
		t.Errorf("result[0] mismatch (-want +got):\n%s", diff)
	}

	rec = do(t, h, http.MethodGet, envPath(id, "agent_count"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{3.0}, decode(t, rec)["agent_count"])

	rec = do(t, h, http.MethodGet, envPath(id, "ui/1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{2.0, 2.0, 30.0, 1.0, 8.0, 6.0}, decode(t, rec)["ui"])

	rec = do(t, h, http.MethodPost, envPath(id, "run_script"), map[string]any{"script": "tick"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", decode(t, rec)["output"])

	rec = do(t, h, http.MethodDelete, "/api/v1/envs/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, envPath(id, "observe"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/envs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestObserveBeforeReset(t *testing.T) {
	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)

	rec := do(t, h, http.MethodGet, envPath(id, "result"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"result":[]}`, string(bytes.TrimSpace(rec.Body.Bytes())))
}

func TestRaggedUpdate(t *testing.T) {
	ragged := UpdateRequest{Action: []any{[]any{0.0, 1.0}, []any{0.5, -0.5, 2.0}}}

	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)
	rec := do(t, h, http.MethodPost, envPath(id, "update"), ragged)
	assert.Equal(t, http.StatusOK, rec.Code, "lenient by default")

	_, strict := newTestServer(t, Options{BridgeOptions: []bridge.Option{bridge.WithStrictShapes()}})
	id = createEnv(t, strict)
	rec = do(t, strict, http.MethodPost, envPath(id, "update"), ragged)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrTypeShapeMismatch, decode(t, rec)["type"])
}

func TestConversionErrors(t *testing.T) {
	tests := []struct {
		name string
		op   string
		body any
	}{
		{"scalar action", "update", map[string]any{"action": 5}},
		{"string row", "update", map[string]any{"action": []any{[]any{1}, "x"}}},
		{"fractional seed", "reset", map[string]any{"seed": 1.5}},
		{"string seed", "reset", map[string]any{"seed": "7"}},
		{"missing seed", "reset", map[string]any{}},
		{"script not text", "run_script", map[string]any{"script": 42}},
	}
	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, envPath(id, tt.op), tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, ErrTypeTypeMismatch, decode(t, rec)["type"])
		})
	}

	rec := do(t, h, http.MethodGet, envPath(id, "ui/abc"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNonFiniteValues(t *testing.T) {
	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)

	rec := do(t, h, http.MethodPost, envPath(id, "update"), json.RawMessage(`{"action":[[1e39]]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, ErrTypeTypeMismatch, decode(t, rec)["type"])

	rec = do(t, h, http.MethodPost, envPath(id, "run_script"), RunScriptRequest{Script: "setHealth(0, Infinity)"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, envPath(id, "observe"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, ErrTypeInternal, body["type"])
	assert.Contains(t, body["context"].(map[string]any)["error"], "Inf")
}

func TestEngineErrors(t *testing.T) {
	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)

	rec := do(t, h, http.MethodGet, envPath(id, "ui/9"), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, ErrTypeEngine, body["type"])
	assert.Contains(t, body["message"], "agent id out of range")

	rec = do(t, h, http.MethodPost, envPath(id, "run_script"), map[string]any{"script": "this is not javascript"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCall(t *testing.T) {
	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)

	rec := do(t, h, http.MethodPost, envPath(id, "call"), CallRequest{Op: "agent_count"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{3.0}, decode(t, rec)["result"])

	rec = do(t, h, http.MethodPost, envPath(id, "call"), CallRequest{Op: "reset", Args: []any{3}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, decode(t, rec)["result"])

	rec = do(t, h, http.MethodPost, envPath(id, "call"), CallRequest{Op: "render"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrTypeInvalidParams, decode(t, rec)["type"])

	rec = do(t, h, http.MethodPost, envPath(id, "call"), CallRequest{Op: "get_ui"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, envPath(id, "call"), CallRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEnvs(t *testing.T) {
	_, h := newTestServer(t, Options{})
	a := createEnv(t, h)
	b := createEnv(t, h)

	rec := do(t, h, http.MethodGet, "/api/v1/envs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListEnvsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Envs, 2)
	ids := []string{resp.Envs[0].ID, resp.Envs[1].ID}
	assert.ElementsMatch(t, []string{a, b}, ids)
}

func TestUnknownEnv(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := do(t, h, http.MethodGet, envPath("missing", "observe"), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrTypeNotFound, decode(t, rec)["type"])
}

func TestRecording(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "episodes.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	_, h := newTestServer(t, Options{Store: st})
	id := createEnv(t, h)

	rec := do(t, h, http.MethodPost, envPath(id, "reset"), ResetRequest{Seed: 4})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode(t, rec)["episode_id"].(string)
	require.NotEmpty(t, first)

	for i := 0; i < 3; i++ {
		rec = do(t, h, http.MethodPost, envPath(id, "update"), UpdateRequest{Action: [][]float64{{8, 4, 1}}})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/episodes/"+first+"/steps", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page store.StepsPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 3, page.TotalCount)
	assert.JSONEq(t, `[[8,4,1]]`, string(page.Steps[0].Action))
	assert.JSONEq(t, `[[8,0,0,1],[0,0,0,1],[0,0,0,1]]`, string(page.Steps[0].Result))

	rec = do(t, h, http.MethodPost, envPath(id, "reset"), ResetRequest{Seed: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, first, decode(t, rec)["episode_id"])

	rec = do(t, h, http.MethodGet, "/api/v1/episodes/"+first, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ep store.Episode
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ep))
	assert.Equal(t, int64(4), ep.Seed)
	assert.Equal(t, 3, ep.Steps)
	assert.NotNil(t, ep.EndedAt)

	rec = do(t, h, http.MethodGet, "/api/v1/episodes?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["total"])

	rec = do(t, h, http.MethodGet, "/api/v1/episodes/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStep(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "episodes.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	_, h := newTestServer(t, Options{Store: st})
	id := createEnv(t, h)

	rec := do(t, h, http.MethodPost, envPath(id, "reset"), ResetRequest{Seed: 0})
	require.Equal(t, http.StatusOK, rec.Code)
	episode := decode(t, rec)["episode_id"].(string)

	rec = do(t, h, http.MethodPost, envPath(id, "step"), UpdateRequest{Action: [][]float64{{8, 4, 1}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, []any{0.0, 1.0, 100.0, 1.0, 2.0, 1.0}, body["observation"].([]any)[0])
	assert.Equal(t, []any{8.0, 0.0, 0.0, 1.0}, body["result"].([]any)[0])

	rec = do(t, h, http.MethodPost, envPath(id, "call"), CallRequest{Op: "step", Args: []any{[]any{[]any{0}}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["result"], "observation")

	rec = do(t, h, http.MethodPost, envPath(id, "step"), UpdateRequest{Action: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/episodes/"+episode+"/steps", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page store.StepsPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 2, page.TotalCount)
	assert.JSONEq(t, `[[8,4,1]]`, string(page.Steps[0].Action))
	assert.JSONEq(t, `[[8,0,0,1],[0,0,0,1],[0,0,0,1]]`, string(page.Steps[0].Result))
}

func TestEpisodesWithoutStore(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := do(t, h, http.MethodGet, "/api/v1/episodes", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	_, h := newTestServer(t, Options{Limiter: ratelimit.New(0.001, 2, 0)})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/envs", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/envs", nil).Code)

	rec := do(t, h, http.MethodGet, "/api/v1/envs", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ErrTypeRateLimit, decode(t, rec)["type"])
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code, "health is exempt")
}

type panicGame struct{}

func (panicGame) Reset(int) error { return nil }
func (panicGame) Update([][]float32) error { return nil }
func (panicGame) RunScript(string) (string, error) { return "", nil }
func (panicGame) AgentObserve() ([][]float32, error) { panic("engine exploded") }
func (panicGame) AgentResult() ([][]float32, error) { return nil, nil }
func (panicGame) AgentCount() (int, error) { return 1, nil }
func (panicGame) GetUI(int) ([]float32, error) { return nil, nil }

func TestRecoverPanics(t *testing.T) {
	_, h := newTestServer(t, Options{Open: func(kind, config string) (game.Game, error) {
		return panicGame{}, nil
	}})
	id := createEnv(t, h)

	rec := do(t, h, http.MethodGet, envPath(id, "observe"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrTypeInternal, decode(t, rec)["type"])
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := do(t, h, http.MethodPost, envPath(id, "update"), UpdateRequest{Action: [][]float64{{0}}})
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	rec := do(t, h, http.MethodPost, envPath(id, "run_script"), map[string]any{"script": "tick"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20", decode(t, rec)["output"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, Options{})
	id := createEnv(t, h)
	do(t, h, http.MethodGet, envPath(id, "observe"), nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eden_active_envs 1")
	assert.Contains(t, rec.Body.String(), `eden_boundary_calls_total{op="observe",outcome="ok"} 1`)
}
