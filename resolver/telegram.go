package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// FileGetter is the part of *tgbotapi.BotAPI used for resolution.
type FileGetter interface {
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Telegram resolves Bot API file ids through getFile.
type Telegram struct {
	api          FileGetter
	token        string
	fileEndpoint string
	linkTTL      time.Duration
	timeout      time.Duration
	now          func() time.Time
}

// NewTelegram builds a resolver. fileEndpoint is a format string taking the token
// and the file path; empty means the public Bot API host.
func NewTelegram(api FileGetter, token, fileEndpoint string, linkTTL, timeout time.Duration) *Telegram {
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}
	return &Telegram{
		api:          api,
		token:        token,
		fileEndpoint: fileEndpoint,
		linkTTL:      linkTTL,
		timeout:      timeout,
		now:          time.Now,
	}
}

type getFileResult struct {
	file tgbotapi.File
	err  error
}

// Resolve calls getFile and builds the download URL. A local Bot API server
// answers with an absolute path on its own disk; that becomes a file:// URL.
func (t *Telegram) Resolve(ctx context.Context, locator string) (FetchDescriptor, error) {
	if locator == "" {
		return FetchDescriptor{}, &ResolutionError{Class: Invalid, Locator: locator, Err: errors.New("empty file id")}
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	// getFile has no context parameter; the buffered channel lets the call finish on its own.
	done := make(chan getFileResult, 1)
	go func() {
		f, err := t.api.GetFile(tgbotapi.FileConfig{FileID: locator})
		done <- getFileResult{f, err}
	}()

	var res getFileResult
	select {
	case <-ctx.Done():
		return FetchDescriptor{}, &ResolutionError{Class: Unavailable, Locator: locator, Err: ctx.Err()}
	case res = <-done:
	}
	if res.err != nil {
		return FetchDescriptor{}, classify(locator, res.err)
	}
	if res.file.FilePath == "" {
		return FetchDescriptor{}, &ResolutionError{Class: Unavailable, Locator: locator, Err: errors.New("getFile returned no file_path")}
	}

	return FetchDescriptor{
		URL:       t.Link(res.file.FilePath),
		Path:      res.file.FilePath,
		ExpiresAt: t.now().Add(t.linkTTL),
	}, nil
}

// Link builds the download URL for a getFile path. The result embeds the bot token.
func (t *Telegram) Link(filePath string) string {
	if path.IsAbs(filePath) {
		return (&url.URL{Scheme: "file", Path: filePath}).String()
	}
	return fmt.Sprintf(t.fileEndpoint, t.token, strings.TrimPrefix(filePath, "/"))
}

// classify maps Bot API errors onto resolution classes.
func classify(locator string, err error) *ResolutionError {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0:
			return &ResolutionError{
				Class:      RateLimited,
				Locator:    locator,
				RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
				Err:        err,
			}
		case apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusNotFound:
			return &ResolutionError{Class: Invalid, Locator: locator, Err: err}
		}
	}
	return &ResolutionError{Class: Unavailable, Locator: locator, Err: err}
}
