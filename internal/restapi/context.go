// Package restapi is the thin HTTP(S) boundary layer: it decodes inbound
// requests, checks the Authenticator, and invokes the Catalog, Manager,
// Scheduler, and DataStore. Per the design's "Global state" note, every
// handler receives its component references through a Context value
// rather than through package-level pointers.
package restapi

import (
	"github.com/kiwibes/kiwibes/internal/auth"
	"github.com/kiwibes/kiwibes/internal/catalog"
	"github.com/kiwibes/kiwibes/internal/datastore"
	"github.com/kiwibes/kiwibes/internal/logger"
	"github.com/kiwibes/kiwibes/internal/manager"
	"github.com/kiwibes/kiwibes/internal/metrics"
	"github.com/kiwibes/kiwibes/internal/scheduler"
)

// Context bundles references to the four core components plus the
// authenticator, handed to every handler's constructor.
type Context struct {
	Catalog   *catalog.Catalog
	Manager   *manager.Manager
	Scheduler *scheduler.Scheduler
	Data      *datastore.DataStore
	Auth      *auth.Authenticator
	Log       *logger.Logger
	Metrics   *metrics.Registry
}
