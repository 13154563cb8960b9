// Package auth holds the server's set of valid API tokens, reloaded from
// a JSON array file on disk that is watched for modification. A missing
// file is treated as an empty token set rather than an error.
package auth

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/kiwibes/kiwibes/internal/logger"
)

// pollInterval is how often the watcher checks the token file's
// modification time, matching the component's ~1s reload contract.
const pollInterval = 1 * time.Second

// Authenticator is a reloadable set of valid tokens.
type Authenticator struct {
	mu      sync.RWMutex
	tokens  map[string]struct{}
	path    string
	modTime time.Time
	log     *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Authenticator that will watch path for modifications.
// The token set starts empty until the first Reload (either explicit or
// via the background watcher started by Start).
func New(path string, log *logger.Logger) *Authenticator {
	return &Authenticator{
		tokens: make(map[string]struct{}),
		path:   path,
		log:    log,
	}
}

// Reload re-reads the token file if its modification time has changed
// since the last successful read. A missing file yields an empty set.
func (a *Authenticator) Reload() error {
	info, err := os.Stat(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			a.mu.Lock()
			a.tokens = make(map[string]struct{})
			a.modTime = time.Time{}
			a.mu.Unlock()
			return nil
		}
		return err
	}

	modTime := info.ModTime()

	a.mu.RLock()
	unchanged := modTime.Equal(a.modTime)
	a.mu.RUnlock()
	if unchanged {
		return nil
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		return err
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}

	tokens := make(map[string]struct{}, len(list))
	for _, t := range list {
		tokens[t] = struct{}{}
	}

	a.mu.Lock()
	a.tokens = tokens
	a.modTime = modTime
	a.mu.Unlock()

	a.log.Info("authenticator reloaded tokens",
		logger.Field{Key: "path", Value: a.path}, logger.Field{Key: "count", Value: len(tokens)})
	return nil
}

// Authenticate reports whether token is currently valid.
func (a *Authenticator) Authenticate(token string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.tokens[token]
	return ok
}

// Start launches the background watcher that calls Reload every
// pollInterval. Start performs an initial synchronous Reload so the
// token set is populated before Start returns; if that reload fails, the
// error is logged, the current token set is kept, and the watcher starts
// anyway.
func (a *Authenticator) Start() error {
	if err := a.Reload(); err != nil {
		a.log.Warn("initial token reload failed, keeping the current token set",
			logger.Field{Key: "path", Value: a.path}, logger.Field{Key: "error", Value: err})
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go a.watch(ctx)
	return nil
}

// Stop joins the background watcher.
func (a *Authenticator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Authenticator) watch(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Reload(); err != nil {
				a.log.Warn("failed to reload tokens",
					logger.Field{Key: "path", Value: a.path}, logger.Field{Key: "error", Value: err})
			}
		}
	}
}
