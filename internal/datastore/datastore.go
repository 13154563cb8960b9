// Package datastore is an ephemeral, in-memory key-value scratch space
// shared by job programs, bounded by a total byte budget.
package datastore

import (
	"sort"
	"sync"

	"github.com/kiwibes/kiwibes/internal/kerr"
	"golang.org/x/text/unicode/norm"
)

// normalizeKey NFC-normalizes key, matching internal/catalog's job-name
// normalization, so visually-identical Unicode strings collide
// predictably instead of silently coexisting as distinct map keys.
func normalizeKey(key string) string {
	return norm.NFC.String(key)
}

// DefaultMaxBytes is the byte budget used when none is configured,
// matching the component's documented default of 10 MiB.
const DefaultMaxBytes = 10 * 1 << 20

// DataStore is a byte-budgeted map, safe for concurrent use.
type DataStore struct {
	mu           sync.RWMutex
	entries      map[string]string
	currentBytes int64
	maxBytes     int64
	onChange     func(currentBytes int64)
}

// New creates a DataStore with the given byte budget. A non-positive
// maxBytes falls back to DefaultMaxBytes.
func New(maxBytes int64) *DataStore {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &DataStore{
		entries:  make(map[string]string),
		maxBytes: maxBytes,
	}
}

// OnChange registers a callback invoked with the new current-bytes total
// after every mutation, letting a metrics gauge track it without the
// datastore importing Prometheus itself.
func (d *DataStore) OnChange(fn func(currentBytes int64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

func (d *DataStore) notifyLocked() {
	if d.onChange != nil {
		d.onChange(d.currentBytes)
	}
}

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}

// Write inserts (key, value) iff key is absent and the budget allows it.
func (d *DataStore) Write(key, value string) error {
	key = normalizeKey(key)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.entries[key]; exists {
		return kerr.Newf(kerr.DataKeyTaken, "key %q already exists", key)
	}

	size := entrySize(key, value)
	if d.currentBytes+size > d.maxBytes {
		return kerr.Newf(kerr.DataStoreFull, "writing key %q would exceed the %d byte budget", key, d.maxBytes)
	}

	d.entries[key] = value
	d.currentBytes += size
	d.notifyLocked()
	return nil
}

// Read returns the current value for key.
func (d *DataStore) Read(key string) (string, error) {
	key = normalizeKey(key)

	d.mu.RLock()
	defer d.mu.RUnlock()

	value, exists := d.entries[key]
	if !exists {
		return "", kerr.Newf(kerr.DataKeyUnknown, "key %q does not exist", key)
	}
	return value, nil
}

// Clear removes key, decrementing current-bytes.
func (d *DataStore) Clear(key string) error {
	key = normalizeKey(key)

	d.mu.Lock()
	defer d.mu.Unlock()

	value, exists := d.entries[key]
	if !exists {
		return kerr.Newf(kerr.DataKeyUnknown, "key %q does not exist", key)
	}

	delete(d.entries, key)
	d.currentBytes -= entrySize(key, value)
	d.notifyLocked()
	return nil
}

// ClearAll empties the map, returning the count removed.
func (d *DataStore) ClearAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.entries)
	d.entries = make(map[string]string)
	d.currentBytes = 0
	d.notifyLocked()
	return n
}

// Keys lists all keys, in a stable sorted order.
func (d *DataStore) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CurrentBytes returns Sigma(|key|+|value|) over all entries.
func (d *DataStore) CurrentBytes() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentBytes
}

// MaxBytes returns the configured budget.
func (d *DataStore) MaxBytes() int64 {
	return d.maxBytes
}
