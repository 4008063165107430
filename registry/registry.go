// Package registry keeps the in-memory table of files received by the bot.
// Records are addressed by an opaque random key and never leave the process.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMimeType is used when the sender did not declare one.
const DefaultMimeType = "application/octet-stream"

// keyBytes is the amount of entropy behind each key (128 bits).
const keyBytes = 16

// maxIssueAttempts bounds the collision retry loop in Issue.
const maxIssueAttempts = 8

var (
	// ErrNotFound is returned by Lookup for keys that were never issued (or were swept).
	ErrNotFound = errors.New("file not found")
	// ErrKeyExhausted means the random source kept producing taken keys; practically unreachable.
	ErrKeyExhausted = errors.New("could not generate a unique key")
)

// Metadata is what the ingestion path knows about a file before it has a key.
type Metadata struct {
	DisplayName     string
	SizeBytes       int64
	MimeType        string
	UpstreamLocator string
	ChatID          int64
}

// FileRecord is a registered file. Everything except AccessCount is fixed at insertion.
type FileRecord struct {
	Key             string
	DisplayName     string
	SizeBytes       int64
	MimeType        string
	UpstreamLocator string
	ChatID          int64
	CreatedAt       time.Time
	AccessCount     int64
}

type entry struct {
	rec  FileRecord
	hits atomic.Int64
}

// Registry is a concurrency-safe key -> FileRecord map.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	rand io.Reader
	now  func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithRandom replaces the key entropy source (crypto/rand by default).
func WithRandom(r io.Reader) Option {
	return func(reg *Registry) { reg.rand = r }
}

// WithClock replaces time.Now for CreatedAt stamps and retention sweeps.
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) { reg.now = now }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	reg := &Registry{
		entries: make(map[string]*entry),
		rand:    rand.Reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Issue generates a fresh key, stores the record under it and returns the key.
// The record is fully built before it becomes visible to Lookup.
func (r *Registry) Issue(meta Metadata) (string, error) {
	if meta.MimeType == "" {
		meta.MimeType = DefaultMimeType
	}
	buf := make([]byte, keyBytes)
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		if _, err := io.ReadFull(r.rand, buf); err != nil {
			return "", fmt.Errorf("read random key: %w", err)
		}
		key := hex.EncodeToString(buf)

		e := &entry{rec: FileRecord{
			Key:             key,
			DisplayName:     meta.DisplayName,
			SizeBytes:       meta.SizeBytes,
			MimeType:        meta.MimeType,
			UpstreamLocator: meta.UpstreamLocator,
			ChatID:          meta.ChatID,
			CreatedAt:       r.now(),
		}}

		r.mu.Lock()
		if _, taken := r.entries[key]; taken {
			r.mu.Unlock()
			continue
		}
		r.entries[key] = e
		r.mu.Unlock()
		return key, nil
	}
	return "", ErrKeyExhausted
}

// Lookup returns a copy of the record stored under key.
func (r *Registry) Lookup(key string) (FileRecord, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	rec := e.rec
	rec.AccessCount = e.hits.Load()
	return rec, nil
}

// RecordAccess bumps the access counter. Unknown keys are ignored.
func (r *Registry) RecordAccess(key string) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		e.hits.Add(1)
	}
}

// Len reports how many records are held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep drops records created more than maxAge ago and returns how many went.
// Nothing calls it unless retention is configured.
func (r *Registry) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := r.now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, e := range r.entries {
		if e.rec.CreatedAt.Before(cutoff) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}
