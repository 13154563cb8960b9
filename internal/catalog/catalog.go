package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kiwibes/kiwibes/internal/cronexpr"
	"github.com/kiwibes/kiwibes/internal/kerr"
	"github.com/kiwibes/kiwibes/internal/logger"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Catalog is the persisted job registry. All public methods serialize
// access through mu and, on any mutation, flush the entire catalog to
// disk before returning (see save).
type Catalog struct {
	mu   sync.Mutex
	path string
	jobs map[string]*Job
	log  *logger.Logger

	now func() time.Time // overridable for tests
}

// New creates an empty Catalog. Call Load to populate it from disk before
// serving traffic, matching the component's "load() at startup" contract.
func New(log *logger.Logger) *Catalog {
	return &Catalog{
		jobs: make(map[string]*Job),
		log:  log,
		now:  time.Now,
	}
}

func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// Load reads the catalog from path, resetting every job's runtime state
// (status, start-time, pending-start) while preserving statistics.
func (c *Catalog) Load(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kerr.Newf(kerr.NoDatabaseFile, "catalog file not found: %s", path)
		}
		return kerr.Newf(kerr.NoDatabaseFile, "failed to read catalog file: %v", err)
	}

	var raw map[string]*Job
	if err := json.Unmarshal(data, &raw); err != nil {
		return kerr.Newf(kerr.JSONParseFail, "failed to parse catalog file: %v", err)
	}

	for name, job := range raw {
		if err := validateDescriptor(Descriptor{Program: job.Program, Schedule: job.Schedule, MaxRuntime: job.MaxRuntime}); err != nil {
			return kerr.Newf(kerr.JobDescriptionInvalid, "job %q: %v", name, err)
		}
		job.Status = StatusStopped
		job.StartTime = 0
		job.PendingStart = 0
	}

	c.jobs = raw
	if c.jobs == nil {
		c.jobs = make(map[string]*Job)
	}

	c.log.Info("catalog loaded", logger.Field{Key: "path", Value: path}, logger.Field{Key: "jobs", Value: len(c.jobs)})
	return nil
}

// Save persists the current in-memory state durably to the configured
// path using write-temp-then-rename, so a crash mid-write cannot leave a
// half-written catalog on disk.
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save()
}

func (c *Catalog) save() error {
	if c.path == "" {
		return fmt.Errorf("catalog path is not configured")
	}

	data, err := json.MarshalIndent(c.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary catalog file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("failed to rename temporary catalog file: %w", err)
	}
	return nil
}

// validateDescriptor checks only the structural shape of a descriptor.
// Schedule validity is deliberately not checked here: Create/Edit/Load
// accept any schedule string as-is, matching the source database's
// field-presence-only validation. Cron syntax and occurrence checking is
// the Scheduler's job, invoked by the REST layer after the catalog write
// succeeds (see restapi.handleJobCreate).
func validateDescriptor(desc Descriptor) error {
	if len(desc.Program) == 0 {
		return fmt.Errorf("program must have at least one element")
	}
	if desc.Program[0] == "" {
		return fmt.Errorf("program[0] must not be empty")
	}
	return nil
}

// Create inserts a new Job with the given descriptor and zeroed
// statistics, persisting the result.
func (c *Catalog) Create(name string, desc Descriptor) error {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validateDescriptor(desc); err != nil {
		return kerr.Newf(kerr.JobDescriptionInvalid, "%v", err)
	}
	if _, exists := c.jobs[name]; exists {
		return kerr.Newf(kerr.JobNameTaken, "job %q already exists", name)
	}

	c.jobs[name] = &Job{
		Program:    append([]string(nil), desc.Program...),
		Schedule:   desc.Schedule,
		MaxRuntime: desc.MaxRuntime,
		Status:     StatusStopped,
	}

	if err := c.save(); err != nil {
		delete(c.jobs, name)
		return err
	}
	return nil
}

// Edit updates program/schedule/max-runtime on an existing, non-running
// Job. Any other field in patch is ignored.
func (c *Catalog) Edit(name string, patch Patch) error {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, exists := c.jobs[name]
	if !exists {
		return kerr.Newf(kerr.JobNameUnknown, "job %q does not exist", name)
	}
	if job.Status == StatusRunning {
		return kerr.Newf(kerr.JobIsRunning, "job %q is running", name)
	}

	candidate := Descriptor{Program: job.Program, Schedule: job.Schedule, MaxRuntime: job.MaxRuntime}
	if patch.Program != nil {
		candidate.Program = *patch.Program
	}
	if patch.Schedule != nil {
		candidate.Schedule = *patch.Schedule
	}
	if patch.MaxRuntime != nil {
		candidate.MaxRuntime = *patch.MaxRuntime
	}

	if err := validateDescriptor(candidate); err != nil {
		return kerr.Newf(kerr.JobDescriptionInvalid, "%v", err)
	}

	job.Program = append([]string(nil), candidate.Program...)
	job.Schedule = candidate.Schedule
	job.MaxRuntime = candidate.MaxRuntime

	return c.save()
}

// Delete removes a Job. It refuses while the job is running.
func (c *Catalog) Delete(name string) error {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, exists := c.jobs[name]
	if !exists {
		return kerr.Newf(kerr.JobNameUnknown, "job %q does not exist", name)
	}
	if job.Status == StatusRunning {
		return kerr.Newf(kerr.JobIsRunning, "job %q is running", name)
	}

	delete(c.jobs, name)
	return c.save()
}

// Get returns a snapshot of the named Job's descriptor and statistics.
func (c *Catalog) Get(name string) (Job, error) {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, exists := c.jobs[name]
	if !exists {
		return Job{}, kerr.Newf(kerr.JobNameUnknown, "job %q does not exist", name)
	}
	return job.clone(), nil
}

var nameCollator = collate.New(language.Und)

// ListNames returns every job name in a stable, Unicode-collation-aware
// order — Go map iteration order is randomized, which would otherwise
// make GET /rest/jobs/list output nondeterministic between calls.
func (c *Catalog) ListNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.jobs))
	for name := range c.jobs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return nameCollator.CompareString(names[i], names[j]) < 0
	})
	return names
}

// ListSchedulable returns the names of jobs whose schedule field parses
// as a valid cron expression. Whether the expression still has a future
// occurrence is not checked here.
func (c *Catalog) ListSchedulable() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.jobs))
	for name, job := range c.jobs {
		if job.Schedule == "" {
			continue
		}
		if err := cronexpr.Validate(job.Schedule); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return nameCollator.CompareString(names[i], names[j]) < 0
	})
	return names
}

// JobStarted transitions a Job to running and stamps its start time.
func (c *Catalog) JobStarted(name string) error {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, exists := c.jobs[name]
	if !exists {
		return kerr.Newf(kerr.JobNameUnknown, "job %q does not exist", name)
	}
	if job.Status == StatusRunning {
		return kerr.Newf(kerr.JobIsRunning, "job %q is already running", name)
	}

	job.Status = StatusRunning
	job.StartTime = c.now().Unix()

	return c.save()
}

// JobStopped records a completed run: updates the Welford mean/variance
// accumulators with the elapsed duration, transitions back to stopped,
// and increments the completion count.
func (c *Catalog) JobStopped(name string) error {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, exists := c.jobs[name]
	if !exists {
		return kerr.Newf(kerr.JobNameUnknown, "job %q does not exist", name)
	}
	if job.Status != StatusRunning {
		return kerr.Newf(kerr.JobIsNotRunning, "job %q is not running", name)
	}

	elapsed := float64(c.now().Unix() - job.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}

	n := job.NbrRuns + 1
	delta := elapsed - job.AvgRuntime
	newMean := job.AvgRuntime + delta/float64(n)
	newM2 := job.VarRuntime + delta*(elapsed-newMean)

	job.NbrRuns = n
	job.AvgRuntime = newMean
	job.VarRuntime = math.Max(newM2, 0)
	job.Status = StatusStopped
	job.StartTime = 0

	return c.save()
}

// IncrPending increments the queued-start counter for name.
func (c *Catalog) IncrPending(name string) error {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, exists := c.jobs[name]
	if !exists {
		return kerr.Newf(kerr.JobNameUnknown, "job %q does not exist", name)
	}
	job.PendingStart++
	return c.save()
}

// DecrPending decrements the queued-start counter, returning the
// remaining count, or -1 if there was nothing queued to consume.
func (c *Catalog) DecrPending(name string) (int, error) {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, exists := c.jobs[name]
	if !exists {
		return 0, kerr.Newf(kerr.JobNameUnknown, "job %q does not exist", name)
	}
	if job.PendingStart <= 0 {
		return -1, nil
	}
	job.PendingStart--
	remaining := job.PendingStart

	if err := c.save(); err != nil {
		return 0, err
	}
	return remaining, nil
}

// ClearPending resets the queued-start counter to zero.
func (c *Catalog) ClearPending(name string) error {
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, exists := c.jobs[name]
	if !exists {
		return kerr.Newf(kerr.JobNameUnknown, "job %q does not exist", name)
	}
	job.PendingStart = 0
	return c.save()
}
