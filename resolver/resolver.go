// Package resolver turns a stored upstream locator into a short-lived fetch URL.
package resolver

import (
	"context"
	"fmt"
	"time"
)

// Class tells callers how a resolution failed.
type Class int

const (
	// Unavailable covers network failures and upstream 5xx answers.
	Unavailable Class = iota
	// Invalid means the upstream rejected the locator itself.
	Invalid
	// RateLimited means the upstream asked us to back off.
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Invalid:
		return "invalid_locator"
	case RateLimited:
		return "rate_limited"
	default:
		return "upstream_unavailable"
	}
}

// ResolutionError is returned by every Resolver on failure.
type ResolutionError struct {
	Class      Class
	Locator    string
	RetryAfter time.Duration
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %s: %s", e.Locator, e.Class)
	}
	return fmt.Sprintf("resolve %s: %s: %v", e.Locator, e.Class, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// FetchDescriptor points at the bytes of one file. It is not valid after ExpiresAt.
// URL may carry credentials and is never serialised; Path is the upstream's
// own name for the file, from which a Linker rebuilds URL.
type FetchDescriptor struct {
	URL       string    `json:"-"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether d can no longer be used at now.
func (d FetchDescriptor) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// Linker turns a descriptor Path back into a fetch URL.
type Linker interface {
	Link(filePath string) string
}

// Resolver exchanges a locator for a FetchDescriptor. Errors are *ResolutionError.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (FetchDescriptor, error)
}
