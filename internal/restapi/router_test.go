package restapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiwibes/kiwibes/internal/auth"
	"github.com/kiwibes/kiwibes/internal/catalog"
	"github.com/kiwibes/kiwibes/internal/datastore"
	"github.com/kiwibes/kiwibes/internal/kerr"
	"github.com/kiwibes/kiwibes/internal/logger"
	"github.com/kiwibes/kiwibes/internal/manager"
	"github.com/kiwibes/kiwibes/internal/metrics"
	"github.com/kiwibes/kiwibes/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (http.Handler, *Context) {
	t.Helper()
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "kiwibes.json")
	require.NoError(t, os.WriteFile(catalogPath, []byte("{}"), 0644))
	cat := catalog.New(logger.Nop())
	require.NoError(t, cat.Load(catalogPath))

	tokensPath := filepath.Join(dir, "kiwibes.auth")
	require.NoError(t, os.WriteFile(tokensPath, []byte(`["secret"]`), 0644))
	authenticator := auth.New(tokensPath, logger.Nop())
	require.NoError(t, authenticator.Reload())

	metricsRegistry := metrics.New()
	mgrMetrics := manager.NewMetrics(metricsRegistry.Registerer)
	mgr := manager.New(cat, logger.Nop(), mgrMetrics)
	mgr.Start()
	t.Cleanup(mgr.Stop)

	sched := scheduler.New(cat, mgr, logger.Nop())
	sched.Start()
	t.Cleanup(sched.Stop)

	data := datastore.New(1024)

	ctx := &Context{
		Catalog:   cat,
		Manager:   mgr,
		Scheduler: sched,
		Data:      data,
		Auth:      authenticator,
		Log:       logger.Nop(),
		Metrics:   metricsRegistry,
	}
	return NewRouter(ctx), ctx
}

func TestRestAPI_AuthenticationFailure(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/rest/jobs/list", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, kerr.AuthenticationFail, body["error"])
}

func TestRestAPI_Ping(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/rest/ping?auth=secret", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestRestAPI_JobCreateStartDetails(t *testing.T) {
	router, _ := newTestServer(t)

	form := url.Values{}
	form.Set("program", "/bin/sleep")
	form.Add("program", "0.05")
	form.Set("max-runtime", "10")

	req := httptest.NewRequest(http.MethodPost, "/rest/job/create/sleeper?auth=secret", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/rest/job/details/sleeper?auth=secret", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var job catalog.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, []string{"/bin/sleep", "0.05"}, job.Program)
	assert.Equal(t, catalog.StatusStopped, job.Status)
}

func TestRestAPI_JobCreate_Duplicate(t *testing.T) {
	router, _ := newTestServer(t)

	form := url.Values{}
	form.Set("program", "/bin/true")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/rest/job/create/dup?auth=secret", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if i == 0 {
			require.Equal(t, http.StatusOK, rec.Code)
		} else {
			require.Equal(t, http.StatusNotFound, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.EqualValues(t, kerr.JobNameTaken, body["error"])
		}
	}
}

// Create with a syntactically invalid cron schedule must fail with
// JOB_SCHEDULE_INVALID, not JOB_DESCRIPTION_INVALID, and must not leave
// the job behind in the catalog.
func TestRestAPI_JobCreate_InvalidSchedule(t *testing.T) {
	router, ctx := newTestServer(t)

	form := url.Values{}
	form.Set("program", "/bin/true")
	form.Set("schedule", "0 0 12 1W * ?")
	form.Set("max-runtime", "1")

	req := httptest.NewRequest(http.MethodPost, "/rest/job/create/bad?auth=secret", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, kerr.JobScheduleInvalid, body["error"])

	_, err := ctx.Catalog.Get("bad")
	var kerrErr *kerr.Error
	require.ErrorAs(t, err, &kerrErr)
	assert.Equal(t, kerr.JobNameUnknown, kerrErr.Code)
}

func TestRestAPI_DataWriteReadClear(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/rest/data/write/greeting?auth=secret&value=hello", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/rest/data/read/greeting?auth=secret", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hello", body["value"])

	req = httptest.NewRequest(http.MethodPost, "/rest/data/clear/greeting?auth=secret", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/rest/data/read/greeting?auth=secret", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestAPI_DataWrite_EmptyValueIsRejected(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/rest/data/write/key?auth=secret", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, kerr.EmptyRestRequest, body["error"])
}

func TestRestAPI_InvalidPathSegmentRejected(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/rest/job/details/not%20valid?auth=secret", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
