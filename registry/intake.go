package registry

import (
	"errors"
	"fmt"
)

// ErrSizeLimitExceeded rejects files whose declared size is over the configured ceiling.
var ErrSizeLimitExceeded = errors.New("file size exceeds limit")

// Intake is the entry point for the bot: it enforces the size ceiling before
// anything reaches the registry.
type Intake struct {
	reg     *Registry
	maxSize int64
}

// NewIntake wraps reg with a size ceiling in bytes.
func NewIntake(reg *Registry, maxSize int64) *Intake {
	return &Intake{reg: reg, maxSize: maxSize}
}

// MaxSize returns the ceiling in bytes.
func (in *Intake) MaxSize() int64 {
	return in.maxSize
}

// RegisterFile validates and registers a received file, returning its public key.
func (in *Intake) RegisterFile(displayName string, sizeBytes int64, mimeType, upstreamLocator string, chatID int64) (string, error) {
	if sizeBytes < 0 {
		return "", fmt.Errorf("negative size %d", sizeBytes)
	}
	if sizeBytes > in.maxSize {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrSizeLimitExceeded, sizeBytes, in.maxSize)
	}
	if upstreamLocator == "" {
		return "", errors.New("empty upstream locator")
	}
	return in.reg.Issue(Metadata{
		DisplayName:     displayName,
		SizeBytes:       sizeBytes,
		MimeType:        mimeType,
		UpstreamLocator: upstreamLocator,
		ChatID:          chatID,
	})
}
