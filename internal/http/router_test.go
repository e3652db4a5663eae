package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paintops/internal/auth"
	"paintops/internal/bulk"
	"paintops/internal/config"
	"paintops/internal/jobs"
	"paintops/internal/logger"
	"paintops/internal/phases"
	"paintops/internal/store"
	"paintops/internal/views"
)

type testServer struct {
	srv   *httptest.Server
	mem   *store.Memory
	phase map[string]string
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, phases.Seed(ctx, mem))
	all, err := mem.ListPhases(ctx)
	require.NoError(t, err)
	ids := map[string]string{}
	for _, p := range all {
		ids[p.Label] = p.ID
	}

	log := logger.Nop()
	dir := phases.NewDirectory(mem)
	reg := views.NewRegistry(mem, dir, log, views.Options{Throttle: time.Second, Debounce: 10 * time.Millisecond})
	t.Cleanup(reg.Close)
	ctrl := &bulk.Controller{Store: mem, Directory: dir, Log: log, Reload: reg.RefetchAll}

	jwtSvc := auth.NewJWT("test-secret")
	token, err := jwtSvc.Sign("5f0c7c1e-8d7a-4a51-9b0e-0d3f3c2b1a00")
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(config.Config{}, log, mem, reg, ctrl, jwtSvc))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, mem: mem, phase: ids, token: token}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) insert(t *testing.T, label string) jobs.Record {
	t.Helper()
	r, err := ts.mem.InsertJob(context.Background(), jobs.Record{CurrentPhaseID: ts.phase[label]})
	require.NoError(t, err)
	return r
}

type viewBody struct {
	Phases []string   `json:"phases"`
	Jobs   []jobs.Job `json:"jobs"`
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/jobs?phase=Work+Order")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/me", "")
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "5f0c7c1e-8d7a-4a51-9b0e-0d3f3c2b1a00", body["actor_id"])
}

func TestListPhases(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/phases", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []jobs.Phase
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out, 7)
}

func TestListJobsView(t *testing.T) {
	ts := newTestServer(t)
	r := ts.insert(t, phases.WorkOrder)
	ts.insert(t, phases.Invoicing)

	resp := ts.do(t, http.MethodGet, "/jobs?phase=Work+Order", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body viewBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, r.ID, body.Jobs[0].ID)
	assert.Equal(t, []string{phases.WorkOrder}, body.Phases)
}

func TestUnknownPhaseIs404(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/jobs?phase=Estimating", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/jobs", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefetch(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/jobs/refetch?phase=Invoicing", `{"force":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Refetched bool `json:"refetched"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Refetched)

	resp = ts.do(t, http.MethodPost, "/jobs/refetch?phase=Invoicing", `{"force":false}`)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Refetched, "throttled")
}

func TestBulkArchiveThenDelete(t *testing.T) {
	ts := newTestServer(t)
	a := ts.insert(t, phases.Completed)
	b := ts.insert(t, phases.Completed)

	resp := ts.do(t, http.MethodGet, "/jobs?phase=Completed", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/jobs/bulk/archive",
		`{"phases":["Completed"],"ids":["`+a.ID+`","`+b.ID+`"],"reason":"closed out"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res bulk.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 2, res.Moved)

	resp = ts.do(t, http.MethodGet, "/jobs/"+a.ID+"/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []struct {
		From      struct{ Label string } `json:"from"`
		To        struct{ Label string } `json:"to"`
		ChangedBy string                 `json:"changed_by"`
		Reason    string                 `json:"reason"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, phases.Completed, history[0].From.Label)
	assert.Equal(t, phases.Archived, history[0].To.Label)
	assert.Equal(t, "closed out", history[0].Reason)

	// the archived view must show both before they can be deleted
	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodGet, "/jobs?phase=Archived", "")
		var body viewBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return len(body.Jobs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp = ts.do(t, http.MethodPost, "/jobs/bulk/delete",
		`{"phases":["Archived"],"ids":["`+a.ID+`","`+b.ID+`"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := ts.mem.GetJob(context.Background(), a.ID)
	assert.Error(t, err)
}

func TestBulkDeleteNonArchivedIs422(t *testing.T) {
	ts := newTestServer(t)
	a := ts.insert(t, phases.JobRequest)

	resp := ts.do(t, http.MethodPost, "/jobs/bulk/delete",
		`{"phases":["Job Request"],"ids":["`+a.ID+`"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/jobs/bulk/archive", `{"phases":["Job Request"],"ids":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/jobs/bulk/shred", `{"phases":["Job Request"],"ids":[]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t)
	ts.insert(t, phases.WorkOrder)
	ts.insert(t, phases.PendingWorkOrder)

	resp := ts.do(t, http.MethodGet, "/dashboard", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		WorkOrders []jobs.Job `json:"work_orders"`
		Today      []jobs.Job `json:"today"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.WorkOrders, 2)
	assert.NotNil(t, body.Today)

	resp = ts.do(t, http.MethodPost, "/dashboard/refresh", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamSendsSnapshots(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.srv.URL+"/jobs/stream?phase=Job+Request", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data: ") {
				lines <- strings.TrimPrefix(sc.Text(), "data: ")
			}
		}
		close(lines)
	}()

	first := <-lines
	var snap viewBody
	require.NoError(t, json.Unmarshal([]byte(first), &snap))
	assert.Empty(t, snap.Jobs)

	r := ts.insert(t, phases.JobRequest)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok)
			require.NoError(t, json.Unmarshal([]byte(line), &snap))
			if len(snap.Jobs) == 1 {
				assert.Equal(t, r.ID, snap.Jobs[0].ID)
				return
			}
		case <-deadline:
			t.Fatal("no snapshot with the new job")
		}
	}
}
