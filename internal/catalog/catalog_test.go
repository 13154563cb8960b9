package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiwibes/kiwibes/internal/kerr"
	"github.com/kiwibes/kiwibes/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kiwibes.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	c := New(logger.Nop())
	require.NoError(t, c.Load(path))
	return c, path
}

func TestCatalog_Load_MissingFile(t *testing.T) {
	c := New(logger.Nop())
	err := c.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	var kerrErr *kerr.Error
	require.ErrorAs(t, err, &kerrErr)
	assert.Equal(t, kerr.NoDatabaseFile, kerrErr.Code)
}

func TestCatalog_Load_BadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiwibes.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	c := New(logger.Nop())
	err := c.Load(path)
	require.Error(t, err)

	var kerrErr *kerr.Error
	require.ErrorAs(t, err, &kerrErr)
	assert.Equal(t, kerr.JSONParseFail, kerrErr.Code)
}

func TestCatalog_Load_ResetsRuntimeState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiwibes.json")
	data, err := json.Marshal(map[string]*Job{
		"sleep_2": {
			Program:      []string{"/bin/sleep", "2"},
			Status:       StatusRunning,
			StartTime:    12345,
			PendingStart: 3,
			NbrRuns:      2,
			AvgRuntime:   1.5,
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	c := New(logger.Nop())
	require.NoError(t, c.Load(path))

	job, err := c.Get("sleep_2")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, job.Status)
	assert.EqualValues(t, 0, job.StartTime)
	assert.Equal(t, 0, job.PendingStart)
	assert.EqualValues(t, 2, job.NbrRuns)
	assert.Equal(t, 1.5, job.AvgRuntime)
}

// A persisted job with a schedule that no longer has a future occurrence
// (e.g. hand-edited to a past fixed date) must not brick startup: Load
// only checks field presence, leaving the bad job merely unschedulable.
func TestCatalog_Load_ToleratesImpossibleSchedule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiwibes.json")
	data, err := json.Marshal(map[string]*Job{
		"expired": {
			Program:  []string{"/bin/true"},
			Schedule: "0 0 0 30 2 *",
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	c := New(logger.Nop())
	require.NoError(t, c.Load(path))

	job, err := c.Get("expired")
	require.NoError(t, err)
	assert.Equal(t, "0 0 0 30 2 *", job.Schedule)
}

func TestCatalog_CreateGetDelete(t *testing.T) {
	c, path := newTestCatalog(t)

	desc := Descriptor{Program: []string{"/bin/sleep", "2"}, Schedule: "", MaxRuntime: 10}
	require.NoError(t, c.Create("sleep_2", desc))

	job, err := c.Get("sleep_2")
	require.NoError(t, err)
	assert.Equal(t, desc.Program, job.Program)
	assert.Equal(t, StatusStopped, job.Status)
	assert.EqualValues(t, 0, job.NbrRuns)

	// Reloading from disk reproduces the in-memory state verbatim.
	reloaded := New(logger.Nop())
	require.NoError(t, reloaded.Load(path))
	reloadedJob, err := reloaded.Get("sleep_2")
	require.NoError(t, err)
	assert.Equal(t, job, reloadedJob)

	require.NoError(t, c.Delete("sleep_2"))
	_, err = c.Get("sleep_2")
	requireCode(t, err, kerr.JobNameUnknown)

	err = c.Delete("sleep_2")
	requireCode(t, err, kerr.JobNameUnknown)
}

func TestCatalog_Create_DuplicateName(t *testing.T) {
	c, _ := newTestCatalog(t)
	desc := Descriptor{Program: []string{"/bin/true"}}
	require.NoError(t, c.Create("job", desc))

	err := c.Create("job", desc)
	requireCode(t, err, kerr.JobNameTaken)
}

// Catalog does not validate cron syntax or occurrence: a syntactically
// invalid schedule is accepted as-is, matching the source database's
// field-presence-only validation. Rejecting it is the Scheduler's job,
// invoked by the REST layer after the catalog write succeeds.
func TestCatalog_Create_InvalidScheduleAccepted(t *testing.T) {
	c, _ := newTestCatalog(t)
	desc := Descriptor{Program: []string{"/bin/true"}, Schedule: "not a cron expression"}
	require.NoError(t, c.Create("job", desc))

	job, err := c.Get("job")
	require.NoError(t, err)
	assert.Equal(t, "not a cron expression", job.Schedule)
}

// A schedule with no future occurrence is likewise accepted at the
// catalog level: rejecting it is left to Scheduler.Schedule.
func TestCatalog_Create_NoFutureOccurrenceAccepted(t *testing.T) {
	c, _ := newTestCatalog(t)
	desc := Descriptor{Program: []string{"/bin/true"}, Schedule: "0 0 0 30 2 *"}
	require.NoError(t, c.Create("job", desc))

	job, err := c.Get("job")
	require.NoError(t, err)
	assert.Equal(t, "0 0 0 30 2 *", job.Schedule)
}

func TestCatalog_Create_EmptyProgram(t *testing.T) {
	c, _ := newTestCatalog(t)
	err := c.Create("job", Descriptor{Program: nil})
	requireCode(t, err, kerr.JobDescriptionInvalid)
}

func TestCatalog_Edit_RefusesWhileRunning(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Create("job", Descriptor{Program: []string{"/bin/true"}}))
	require.NoError(t, c.JobStarted("job"))

	newProgram := []string{"/bin/false"}
	err := c.Edit("job", Patch{Program: &newProgram})
	requireCode(t, err, kerr.JobIsRunning)
}

func TestCatalog_Edit_UpdatesOnlyGivenFields(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Create("job", Descriptor{Program: []string{"/bin/true"}, MaxRuntime: 5}))

	newProgram := []string{"/bin/false", "-x"}
	require.NoError(t, c.Edit("job", Patch{Program: &newProgram}))

	job, err := c.Get("job")
	require.NoError(t, err)
	assert.Equal(t, newProgram, job.Program)
	assert.EqualValues(t, 5, job.MaxRuntime)
}

func TestCatalog_Delete_RefusesWhileRunning(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Create("job", Descriptor{Program: []string{"/bin/true"}}))
	require.NoError(t, c.JobStarted("job"))

	err := c.Delete("job")
	requireCode(t, err, kerr.JobIsRunning)
}

func TestCatalog_JobStartedStopped_WelfordStatistics(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Create("job", Descriptor{Program: []string{"/bin/true"}}))

	var tick time.Time = time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return tick }

	durations := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for _, d := range durations {
		require.NoError(t, c.JobStarted("job"))
		tick = tick.Add(time.Duration(d) * time.Second)
		require.NoError(t, c.JobStopped("job"))
	}

	job, err := c.Get("job")
	require.NoError(t, err)
	assert.EqualValues(t, len(durations), job.NbrRuns)
	assert.InDelta(t, 5.0, job.AvgRuntime, 1e-9)
	assert.InDelta(t, 4.571428571, job.SampleVariance(), 1e-6)
}

func TestCatalog_JobStarted_AlreadyRunning(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Create("job", Descriptor{Program: []string{"/bin/true"}}))
	require.NoError(t, c.JobStarted("job"))

	err := c.JobStarted("job")
	requireCode(t, err, kerr.JobIsRunning)
}

func TestCatalog_JobStopped_NotRunning(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Create("job", Descriptor{Program: []string{"/bin/true"}}))

	err := c.JobStopped("job")
	requireCode(t, err, kerr.JobIsNotRunning)
}

func TestCatalog_PendingStart(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Create("job", Descriptor{Program: []string{"/bin/true"}}))

	require.NoError(t, c.IncrPending("job"))
	require.NoError(t, c.IncrPending("job"))

	job, err := c.Get("job")
	require.NoError(t, err)
	assert.Equal(t, 2, job.PendingStart)

	remaining, err := c.DecrPending("job")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	remaining, err = c.DecrPending("job")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	remaining, err = c.DecrPending("job")
	require.NoError(t, err)
	assert.Equal(t, -1, remaining)

	require.NoError(t, c.IncrPending("job"))
	require.NoError(t, c.ClearPending("job"))
	job, err = c.Get("job")
	require.NoError(t, err)
	assert.Equal(t, 0, job.PendingStart)
}

func TestCatalog_ListNames_DeterministicOrder(t *testing.T) {
	c, _ := newTestCatalog(t)
	for _, name := range []string{"zebra", "apple", "mango"} {
		require.NoError(t, c.Create(name, Descriptor{Program: []string{"/bin/true"}}))
	}

	assert.Equal(t, []string{"apple", "mango", "zebra"}, c.ListNames())
	assert.Equal(t, c.ListNames(), c.ListNames())
}

func TestCatalog_ListSchedulable(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Create("manual", Descriptor{Program: []string{"/bin/true"}}))
	require.NoError(t, c.Create("cron", Descriptor{Program: []string{"/bin/true"}, Schedule: "* * * * * *"}))

	assert.Equal(t, []string{"cron"}, c.ListSchedulable())
}

func requireCode(t *testing.T, err error, code kerr.Code) {
	t.Helper()
	require.Error(t, err)
	var kerrErr *kerr.Error
	require.ErrorAs(t, err, &kerrErr)
	require.Equal(t, code, kerrErr.Code)
}
