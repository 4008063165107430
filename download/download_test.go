package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file/bot123/docs/a.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", "11")
		io.WriteString(w, "hello world")
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())
	body, size, err := f.Open(context.Background(), srv.URL+"/file/bot123/docs/a.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer body.Close()
	if size != 11 {
		t.Errorf("size = %d, want 11", size)
	}
	data, _ := io.ReadAll(body)
	if string(data) != "hello world" {
		t.Errorf("body = %q", data)
	}
}

func TestOpenHTTPNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _, err := NewFetcher(srv.Client()).Open(context.Background(), srv.URL+"/file/botSECRET/x")
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want StatusError 503", err)
	}
	if strings.Contains(err.Error(), "SECRET") {
		t.Errorf("error leaks the url path: %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0o600); err != nil {
		t.Fatal(err)
	}

	body, size, err := NewFetcher(nil).Open(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer body.Close()
	if size != 10 {
		t.Errorf("size = %d, want 10", size)
	}
}

func TestOpenRejects(t *testing.T) {
	f := NewFetcher(nil)
	if _, _, err := f.Open(context.Background(), "ftp://example.com/a"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("ftp: err = %v, want ErrUnsupportedScheme", err)
	}
	if _, _, err := f.Open(context.Background(), "file://"+t.TempDir()); err == nil {
		t.Error("directory accepted")
	}
	if _, _, err := f.Open(context.Background(), "file:///definitely/not/here"); err == nil {
		t.Error("missing file accepted")
	}
}
