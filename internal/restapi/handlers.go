package restapi

import (
	"net/http"
	"strconv"

	"github.com/kiwibes/kiwibes/internal/catalog"
	"github.com/kiwibes/kiwibes/internal/kerr"
)

func handleJobStart(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := pathSegment(r, "name")
		if !ok {
			writeErr(w, kerr.New(kerr.JobNameUnknown, "invalid job name"))
			return
		}
		if err := ctx.Manager.StartJob(name); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w)
	}
}

func handleJobStop(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := pathSegment(r, "name")
		if !ok {
			writeErr(w, kerr.New(kerr.JobNameUnknown, "invalid job name"))
			return
		}
		if err := ctx.Manager.StopJob(name); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w)
	}
}

// parseDescriptorForm reads program/schedule/max-runtime from a decoded
// POST form. program may be repeated to build an argv sequence.
func parseDescriptorForm(r *http.Request) (catalog.Descriptor, error) {
	if err := r.ParseForm(); err != nil {
		return catalog.Descriptor{}, kerr.Newf(kerr.EmptyRestRequest, "failed to parse form: %v", err)
	}

	var maxRuntime int64
	if v := r.PostFormValue("max-runtime"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return catalog.Descriptor{}, kerr.Newf(kerr.JobDescriptionInvalid, "max-runtime must be an integer: %v", err)
		}
		maxRuntime = n
	}

	return catalog.Descriptor{
		Program:    r.PostForm["program"],
		Schedule:   r.PostFormValue("schedule"),
		MaxRuntime: maxRuntime,
	}, nil
}

func handleJobCreate(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := pathSegment(r, "name")
		if !ok {
			writeErr(w, kerr.New(kerr.JobDescriptionInvalid, "invalid job name"))
			return
		}

		desc, err := parseDescriptorForm(r)
		if err != nil {
			writeErr(w, err)
			return
		}

		if err := ctx.Catalog.Create(name, desc); err != nil {
			writeErr(w, err)
			return
		}

		if desc.Schedule != "" {
			if err := ctx.Scheduler.Schedule(name); err != nil {
				_ = ctx.Catalog.Delete(name)
				writeErr(w, err)
				return
			}
		}

		writeOK(w)
	}
}

func handleJobEdit(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := pathSegment(r, "name")
		if !ok {
			writeErr(w, kerr.New(kerr.JobNameUnknown, "invalid job name"))
			return
		}
		if err := r.ParseForm(); err != nil {
			writeErr(w, kerr.Newf(kerr.EmptyRestRequest, "failed to parse form: %v", err))
			return
		}

		patch := catalog.Patch{}
		if programs, present := r.PostForm["program"]; present {
			patch.Program = &programs
		}
		rescheduling := false
		if schedule, present := r.PostForm["schedule"]; present {
			s := ""
			if len(schedule) > 0 {
				s = schedule[0]
			}
			patch.Schedule = &s
			rescheduling = true
		}
		if v := r.PostFormValue("max-runtime"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeErr(w, kerr.Newf(kerr.JobDescriptionInvalid, "max-runtime must be an integer: %v", err))
				return
			}
			patch.MaxRuntime = &n
		}

		if err := ctx.Catalog.Edit(name, patch); err != nil {
			writeErr(w, err)
			return
		}

		if rescheduling {
			ctx.Scheduler.Unschedule(name)
			job, err := ctx.Catalog.Get(name)
			if err == nil && job.Schedule != "" {
				// An invalid schedule is not an edit failure: the job is
				// simply left unscheduled, matching the create/edit split
				// where only the create path deletes on a bad schedule.
				_ = ctx.Scheduler.Schedule(name)
			}
		}

		writeOK(w)
	}
}

func handleJobDelete(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := pathSegment(r, "name")
		if !ok {
			writeErr(w, kerr.New(kerr.JobNameUnknown, "invalid job name"))
			return
		}
		if err := ctx.Catalog.Delete(name); err != nil {
			writeErr(w, err)
			return
		}
		ctx.Scheduler.Unschedule(name)
		writeOK(w)
	}
}

func handleJobClearPending(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := pathSegment(r, "name")
		if !ok {
			writeErr(w, kerr.New(kerr.JobNameUnknown, "invalid job name"))
			return
		}
		if err := ctx.Catalog.ClearPending(name); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w)
	}
}

func handleJobDetails(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := pathSegment(r, "name")
		if !ok {
			writeErr(w, kerr.New(kerr.JobNameUnknown, "invalid job name"))
			return
		}
		job, err := ctx.Catalog.Get(name)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleJobsList(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctx.Catalog.ListNames())
	}
}

func handleJobsScheduled(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctx.Scheduler.ListScheduled())
	}
}

func handleDataWrite(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := pathSegment(r, "key")
		if !ok {
			writeErr(w, kerr.New(kerr.EmptyRestRequest, "invalid data key"))
			return
		}
		value := r.URL.Query().Get("value")
		if value == "" {
			writeErr(w, kerr.New(kerr.EmptyRestRequest, "value parameter is required"))
			return
		}
		if err := ctx.Data.Write(key, value); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w)
	}
}

func handleDataClear(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := pathSegment(r, "key")
		if !ok {
			writeErr(w, kerr.New(kerr.DataKeyUnknown, "invalid data key"))
			return
		}
		if err := ctx.Data.Clear(key); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w)
	}
}

func handleDataClearAll(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := ctx.Data.ClearAll()
		writeJSON(w, http.StatusOK, struct {
			Count int `json:"count"`
		}{Count: n})
	}
}

func handleDataRead(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := pathSegment(r, "key")
		if !ok {
			writeErr(w, kerr.New(kerr.DataKeyUnknown, "invalid data key"))
			return
		}
		value, err := ctx.Data.Read(key)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Value string `json:"value"`
		}{Value: value})
	}
}

func handleDataKeys(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctx.Data.Keys())
	}
}

func handlePing(ctx *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}
}
