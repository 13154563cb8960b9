package restapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/kiwibes/kiwibes/internal/kerr"
	"github.com/kiwibes/kiwibes/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wasilibs/go-re2"
)

// segmentPattern matches a bare {name}/{key} path segment: letters,
// digits, and underscore only.
var segmentPattern = re2.MustCompile(`^[A-Za-z0-9_]+$`)

type requestIDKey struct{}

// NewRouter builds the full route table bound to ctx.
func NewRouter(ctx *Context) http.Handler {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware(ctx.Log))
	r.Use(authMiddleware(ctx))

	r.HandleFunc("/rest/job/start/{name}", handleJobStart(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/job/stop/{name}", handleJobStop(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/job/create/{name}", handleJobCreate(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/job/edit/{name}", handleJobEdit(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/job/delete/{name}", handleJobDelete(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/job/clear_pending/{name}", handleJobClearPending(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/job/details/{name}", handleJobDetails(ctx)).Methods(http.MethodGet)
	r.HandleFunc("/rest/jobs/list", handleJobsList(ctx)).Methods(http.MethodGet)
	r.HandleFunc("/rest/jobs/scheduled", handleJobsScheduled(ctx)).Methods(http.MethodGet)

	r.HandleFunc("/rest/data/write/{key}", handleDataWrite(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/data/clear/{key}", handleDataClear(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/data/clear_all", handleDataClearAll(ctx)).Methods(http.MethodPost)
	r.HandleFunc("/rest/data/read/{key}", handleDataRead(ctx)).Methods(http.MethodGet)
	r.HandleFunc("/rest/data/keys", handleDataKeys(ctx)).Methods(http.MethodGet)

	r.HandleFunc("/rest/ping", handlePing(ctx)).Methods(http.MethodPost)

	r.Handle("/debug/metrics", promhttp.HandlerFor(ctx.Metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

// requestIDMiddleware stamps every request with a fresh UUID stored in the
// request context, and logs the method and path at debug level. The ID is
// not written to that log line or to the response.
func requestIDMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			log.DebugCtx(ctx, "request received",
				logger.Field{Key: "method", Value: r.Method}, logger.Field{Key: "path", Value: r.URL.Path})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authMiddleware enforces the "auth" query-parameter contract shared by
// every endpoint. /debug/metrics is exempt: it is an operational surface,
// not part of the job-automation REST contract.
func authMiddleware(ctx *Context) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/debug/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			token := r.URL.Query().Get("auth")
			if !ctx.Auth.Authenticate(token) {
				writeErr(w, kerr.New(kerr.AuthenticationFail, "Authentication failed"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// pathSegment extracts and validates a {name}/{key} path variable.
func pathSegment(r *http.Request, key string) (string, bool) {
	v := mux.Vars(r)[key]
	return v, segmentPattern.MatchString(v)
}
