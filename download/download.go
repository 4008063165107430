// Package download opens upstream byte streams. The caller owns and must close the returned body.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// ErrUnsupportedScheme is returned for URLs that are neither http(s) nor file.
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// StatusError reports a non-2xx upstream answer.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s answered %d", e.URL, e.StatusCode)
}

// Fetcher opens http(s) and file URLs.
type Fetcher struct {
	client *http.Client
}

// NewFetcher wraps client. A nil client gets a transport tuned for long downloads:
// no overall timeout, only a bound on how long the upstream may take to answer.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	return &Fetcher{client: client}
}

// NewHTTPClient builds the upstream client. Streams can last hours, so only the
// header phase is bounded.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// Open starts reading rawURL. size is -1 when the upstream did not announce a length.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (body io.ReadCloser, size int64, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, fmt.Errorf("parse upstream url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return f.openHTTP(ctx, u)
	case "file":
		return openFile(u.Path)
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (f *Fetcher) openHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, &StatusError{StatusCode: resp.StatusCode, URL: redact(u)}
	}
	return resp.Body, resp.ContentLength, nil
}

func openFile(path string) (io.ReadCloser, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	return file, info.Size(), nil
}

// redact drops the path, which carries the bot token for Bot API file links.
func redact(u *url.URL) string {
	return u.Scheme + "://" + u.Host + "/..."
}
