package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/core/service"
)

const testSecret = "control-secret"

type fakeWorkflow struct {
	mu      sync.Mutex
	running bool
	busy    bool
	cycles  int
	last    *service.CycleReport
}

func (f *fakeWorkflow) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return domain.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeWorkflow) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeWorkflow) RunCycle(context.Context) (*service.CycleReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, service.ErrCycleInProgress
	}
	f.cycles++
	f.last = &service.CycleReport{ID: "cycle-1", Tokens: 3, Trades: 1}
	return f.last, nil
}

func (f *fakeWorkflow) State() service.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return service.StateSleeping
	}
	return service.StateIdle
}

func (f *fakeWorkflow) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeWorkflow) LastCycle() *service.CycleReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func newControl(t *testing.T, wf WorkflowControl, secret string) *httptest.Server {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("cookfi_up 1\n"))
	})
	status := func() Status { return Status{Name: "cookfi", Wallet: "Wallet1", Pending: 2} }
	srv := httptest.NewServer(NewControlServer(context.Background(), wf, metrics, secret, status, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func validToken(t *testing.T) string {
	t.Helper()
	tok, err := IssueToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	return tok
}

func TestControl_OpenEndpoints(t *testing.T) {
	srv := newControl(t, &fakeWorkflow{}, testSecret)

	resp := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	resp = do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestControl_RejectsBadTokens(t *testing.T) {
	srv := newControl(t, &fakeWorkflow{}, testSecret)

	wrongSecret, err := IssueToken("other-secret", "ops", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "ops", -time.Minute)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"missing":      "",
		"wrong secret": wrongSecret,
		"expired":      expired,
		"no expiry":    noExpiry,
		"wrong alg":    hs512,
		"garbage":      "not.a.jwt",
	} {
		resp := do(t, http.MethodGet, srv.URL+"/v1/status", tok)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
	}
}

func TestControl_Status(t *testing.T) {
	wf := &fakeWorkflow{running: true}
	srv := newControl(t, wf, testSecret)

	resp := do(t, http.MethodGet, srv.URL+"/v1/status", validToken(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "cookfi", st.Name)
	assert.Equal(t, 2, st.Pending)
	assert.True(t, st.Running)
	assert.Equal(t, "sleeping", st.State)
}

func TestControl_StartStop(t *testing.T) {
	wf := &fakeWorkflow{}
	srv := newControl(t, wf, testSecret)
	tok := validToken(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/workflow/start", tok)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, wf.Running())

	resp = do(t, http.MethodPost, srv.URL+"/v1/workflow/start", tok)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/v1/workflow/stop", tok)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.False(t, wf.Running())

	resp = do(t, http.MethodGet, srv.URL+"/v1/workflow/stop", tok)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestControl_Cycle(t *testing.T) {
	wf := &fakeWorkflow{}
	srv := newControl(t, wf, testSecret)
	tok := validToken(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/workflow/cycle", tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report service.CycleReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "cycle-1", report.ID)
	assert.Equal(t, 1, report.Trades)

	wf.mu.Lock()
	wf.busy = true
	wf.mu.Unlock()
	resp = do(t, http.MethodPost, srv.URL+"/v1/workflow/cycle", tok)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 1, wf.cycles)
}

func TestControl_DisabledWithoutSecret(t *testing.T) {
	srv := newControl(t, &fakeWorkflow{}, "")

	resp := do(t, http.MethodGet, srv.URL+"/v1/status", "anything")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	_, err := IssueToken("", "ops", time.Hour)
	require.Error(t, err)

	tok, err := IssueToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(tok, "."))
}
