package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealgen/internal/breaker"
	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/middleware"
	"mealgen/internal/progress"
	"mealgen/internal/quota"
)

type fakeJobs struct {
	mu        sync.Mutex
	tracker   *progress.Tracker
	submitted []domain.GenerationRequest
	submitErr error
	cancelErr error
	cancelled []string
}

func (f *fakeJobs) Submit(ctx context.Context, req domain.GenerationRequest) (domain.JobSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return domain.JobSnapshot{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	job := &domain.Job{ID: "job-1", AccountID: req.AccountID, Status: domain.JobStatusPending}
	for i := 0; i < req.ItemCount; i++ {
		job.Tasks = append(job.Tasks, domain.NewItemTask(job.ID, i))
	}
	return f.tracker.Register(job), nil
}

func (f *fakeJobs) Snapshot(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	snap, ok := f.tracker.Snapshot(jobID)
	if !ok {
		return domain.JobSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakeJobs) Cancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

type fixedLimits map[string]int

func (f fixedLimits) Limit(ctx context.Context, accountID string, kind domain.ResourceKind) (int, error) {
	return f[accountID], nil
}

type breakers []breaker.CircuitState

func (b breakers) Snapshots() []breaker.CircuitState { return b }

func newTestApp() (*App, *fakeJobs, *progress.Tracker) {
	tracker := progress.NewTracker(0)
	jobs := &fakeJobs{tracker: tracker}
	app := &App{
		Jobs:     jobs,
		Progress: tracker,
		Usage:    quota.NewMemoryLedger(fixedLimits{"acct": 10}),
		Breakers: breakers{{Name: "concept", State: breaker.StateClosed}},
		Logger:   infra.NopLogger(),
	}
	return app, jobs, tracker
}

func do(t *testing.T, h http.Handler, method, path, account, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if account != "" {
		req.Header.Set(middleware.AccountHeader, account)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitJob(t *testing.T) {
	app, jobs, _ := newTestApp()
	h := NewRouter(app, Options{})

	rec := do(t, h, http.MethodPost, "/v1/jobs", "", `{"item_count":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/jobs", "acct", `{"item_count":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/jobs", "acct", `{"item_count":3,"constraints":{"meal_type":"lunch"}}`,
		map[string]string{"Accept-Language": "id-ID,en;q=0.5"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, domain.JobStatusPending, resp.Status)

	require.Len(t, jobs.submitted, 1)
	got := jobs.submitted[0]
	assert.Equal(t, "acct", got.AccountID)
	assert.Equal(t, 3, got.ItemCount)
	assert.Equal(t, "id", got.Constraints["locale"])
	assert.Equal(t, "lunch", got.Constraints["meal_type"])
}

func TestSubmitJobErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{name: "quota", err: &quota.QuotaExceededError{AccountID: "acct", Limit: 3, Used: 3, Requested: 2}, code: http.StatusTooManyRequests, kind: "quota_exceeded"},
		{name: "invalid", err: domain.ErrInvalidRequest, code: http.StatusBadRequest, kind: "bad_request"},
		{name: "shutting down", err: domain.ErrShuttingDown, code: http.StatusServiceUnavailable, kind: "unavailable"},
		{name: "unexpected", err: assert.AnError, code: http.StatusInternalServerError, kind: "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app, jobs, _ := newTestApp()
			jobs.submitErr = tc.err
			rec := do(t, NewRouter(app, Options{}), http.MethodPost, "/v1/jobs", "acct", `{"item_count":2}`, nil)
			assert.Equal(t, tc.code, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.kind, body["error"])
			if tc.name == "quota" {
				assert.EqualValues(t, 3, body["limit"])
				assert.EqualValues(t, 3, body["used"])
			}
		})
	}
}

func TestGetAndCancelJobAreScopedToAccount(t *testing.T) {
	app, jobs, tracker := newTestApp()
	h := NewRouter(app, Options{})
	tracker.Register(&domain.Job{ID: "job-9", AccountID: "acct", Status: domain.JobStatusRunning})

	rec := do(t, h, http.MethodGet, "/v1/jobs/job-9", "intruder", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/jobs/missing", "acct", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/jobs/job-9", "acct", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.JobSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "job-9", snap.JobID)

	rec = do(t, h, http.MethodPost, "/v1/jobs/job-9/cancel", "intruder", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, jobs.cancelled)

	rec = do(t, h, http.MethodPost, "/v1/jobs/job-9/cancel", "acct", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"job-9"}, jobs.cancelled)

	jobs.cancelErr = domain.ErrJobTerminal
	rec = do(t, h, http.MethodPost, "/v1/jobs/job-9/cancel", "acct", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQuotaAndHealth(t *testing.T) {
	app, _, _ := newTestApp()
	ledger := app.Usage.(*quota.MemoryLedger)
	_, err := ledger.TryReserve(context.Background(), "acct", domain.ResourceRecipeGeneration, 4)
	require.NoError(t, err)
	h := NewRouter(app, Options{})

	rec := do(t, h, http.MethodGet, "/v1/quota", "acct", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.EqualValues(t, 10, q["limit"])
	assert.EqualValues(t, 4, q["reserved"])
	assert.EqualValues(t, 6, q["remaining"])

	rec = do(t, h, http.MethodGet, "/v1/healthz", "", "", nil)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	app.Breakers = breakers{{Name: "image", State: breaker.StateOpen}}
	rec = do(t, NewRouter(app, Options{}), http.MethodGet, "/v1/healthz", "", "", nil)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), `"state":"open"`)

	rec = do(t, h, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mealgen_")
}

func TestStreamJobDeliversUntilTerminal(t *testing.T) {
	app, _, tracker := newTestApp()
	job := &domain.Job{ID: "job-ws", AccountID: "acct", Status: domain.JobStatusRunning,
		Tasks: []*domain.ItemTask{domain.NewItemTask("job-ws", 0)}}
	tracker.Register(job)

	srv := httptest.NewServer(NewRouter(app, Options{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/job-ws/stream"
	header := http.Header{}
	header.Set(middleware.AccountHeader, "acct")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var first domain.JobSnapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, uint64(1), first.Revision)

	taskID := domain.TaskID("job-ws", 0)
	_, err = tracker.Update("job-ws", progress.Delta{TaskID: taskID, Outcome: domain.TaskOutcomeSuccess})
	require.NoError(t, err)
	_, err = tracker.Update("job-ws", progress.Delta{Status: domain.JobStatusSucceeded})
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last domain.JobSnapshot
	for {
		var s domain.JobSnapshot
		if err := conn.ReadJSON(&s); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		assert.GreaterOrEqual(t, s.Revision, last.Revision)
		last = s
	}
	assert.True(t, last.Terminal)
	assert.Equal(t, domain.JobStatusSucceeded, last.Status)
	assert.Equal(t, 1, last.Succeeded)
}

func TestStreamJobRejectsOtherAccounts(t *testing.T) {
	app, _, tracker := newTestApp()
	tracker.Register(&domain.Job{ID: "job-ws", AccountID: "acct", Status: domain.JobStatusRunning})
	srv := httptest.NewServer(NewRouter(app, Options{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/job-ws/stream"
	header := http.Header{}
	header.Set(middleware.AccountHeader, "intruder")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
