// Package streamer relays registered files from the upstream to HTTP clients
// chunk by chunk, without holding more than one buffer per stream in memory.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arkhipovkm/filerelay/registry"
	"github.com/arkhipovkm/filerelay/resolver"
	"github.com/arkhipovkm/filerelay/utils"
)

// ChunkSize is the relay buffer size.
const ChunkSize = 32 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}

// Mode selects the Content-Disposition of a stream.
type Mode int

const (
	Inline Mode = iota
	Attachment
)

func (m Mode) String() string {
	if m == Attachment {
		return "attachment"
	}
	return "inline"
}

// State is the lifecycle of one stream request.
type State int

const (
	Pending State = iota
	Resolving
	Streaming
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolving:
		return "resolving"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	default:
		return "aborted"
	}
}

// Result describes how a stream ended.
type Result struct {
	State   State
	Status  int
	Written int64
}

// ErrIdleTimeout aborts a stream whose upstream stopped sending.
var ErrIdleTimeout = errors.New("upstream idle timeout")

// RelayError is an I/O failure after the response headers went out.
// The client sees a truncated body.
type RelayError struct {
	Key     string
	Written int64
	Err     error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s aborted after %d bytes: %v", e.Key, e.Written, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// Registry is what the proxy needs from the file table.
type Registry interface {
	Lookup(key string) (registry.FileRecord, error)
	RecordAccess(key string)
}

// Opener starts reading a fetch URL. size is -1 when unknown.
type Opener interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error)
}

// Proxy serves /stream and /download.
type Proxy struct {
	reg         Registry
	resolver    resolver.Resolver
	opener      Opener
	idleTimeout time.Duration
	logger      *zap.Logger
}

// Option customises a Proxy.
type Option func(*Proxy)

// WithIdleTimeout aborts streams that receive nothing from the upstream for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.idleTimeout = d }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Proxy) { p.logger = l }
}

// New builds a Proxy.
func New(reg Registry, res resolver.Resolver, opener Opener, opts ...Option) *Proxy {
	p := &Proxy{reg: reg, resolver: res, opener: opener, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleStream writes the file registered under key to w.
//
// Nothing is written before the upstream body is open, so lookup and resolution
// failures still get a proper status. Once headers are out an I/O error can only
// truncate the body; it is never retried.
func (p *Proxy) HandleStream(ctx context.Context, w http.ResponseWriter, key string, mode Mode) (Result, error) {
	start := time.Now()
	activeStreams.Inc()
	defer activeStreams.Dec()

	log := p.logger.With(zap.String("key", key), zap.Stringer("mode", mode))
	res := Result{State: Pending}
	finish := func(outcome string) {
		streamsTotal.WithLabelValues(mode.String(), outcome).Inc()
		streamDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}

	rec, err := p.reg.Lookup(key)
	if err != nil {
		res.State, res.Status = Aborted, http.StatusNotFound
		if !errors.Is(err, registry.ErrNotFound) {
			res.Status = http.StatusInternalServerError
		}
		writePlain(w, res.Status, "File not found")
		finish("not_found")
		return res, err
	}

	res.State = Resolving
	desc, err := p.resolver.Resolve(ctx, rec.UpstreamLocator)
	if err != nil {
		res.State, res.Status = Aborted, http.StatusBadGateway
		var rerr *resolver.ResolutionError
		if errors.As(err, &rerr) {
			if rerr.Class == resolver.RateLimited && rerr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(rerr.RetryAfter.Seconds())))
			}
			writePlain(w, res.Status, "Upstream error: "+rerr.Class.String())
		} else {
			res.Status = http.StatusInternalServerError
			writePlain(w, res.Status, "Error streaming file")
		}
		log.Warn("resolve failed", zap.Error(err))
		finish("resolve_error")
		return res, err
	}

	body, size, err := p.opener.Open(ctx, desc.URL)
	if err != nil {
		res.State, res.Status = Aborted, http.StatusBadGateway
		writePlain(w, res.Status, "Upstream error: "+resolver.Unavailable.String())
		log.Warn("upstream open failed", zap.Error(err))
		finish("upstream_error")
		return res, &resolver.ResolutionError{Class: resolver.Unavailable, Locator: rec.UpstreamLocator, Err: err}
	}
	defer body.Close()

	h := w.Header()
	h.Set("Content-Type", rec.MimeType)
	h.Set("Content-Disposition", utils.ContentDisposition(mode.String(), rec.DisplayName))
	h.Set("Accept-Ranges", "bytes")
	h.Set("X-Content-Type-Options", "nosniff")
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	res.State, res.Status = Streaming, http.StatusOK
	w.WriteHeader(http.StatusOK)

	res.Written, err = p.relay(ctx, w, body)
	streamBytes.Add(float64(res.Written))
	if err != nil {
		res.State = Aborted
		rerr := &RelayError{Key: key, Written: res.Written, Err: err}
		log.Warn("stream aborted", zap.Int64("bytes", res.Written), zap.Int64("expected", size), zap.Error(err))
		finish("aborted")
		return res, rerr
	}

	res.State = Completed
	p.reg.RecordAccess(key)
	log.Info("stream completed",
		zap.Int64("bytes", res.Written),
		zap.Duration("duration", time.Since(start)),
	)
	finish("completed")
	return res, nil
}

// relay copies src to dst one pooled chunk at a time. io.Copy is avoided on
// purpose: a ReaderFrom on dst could pull with its own buffer sizing.
func (p *Proxy) relay(ctx context.Context, dst io.Writer, src io.ReadCloser) (int64, error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)

	var r io.Reader = src
	if p.idleTimeout > 0 {
		ir := newIdleReader(src, p.idleTimeout)
		defer ir.timer.Stop()
		r = ir
	}
	return relayLoop(ctx, dst, r, *bp)
}

func relayLoop(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// idleReader closes src when a single Read blocks longer than d. The timer is
// armed only while reading, so a slow client never trips it.
type idleReader struct {
	src   io.ReadCloser
	d     time.Duration
	timer *time.Timer
	fired atomic.Bool
}

func newIdleReader(src io.ReadCloser, d time.Duration) *idleReader {
	ir := &idleReader{src: src, d: d}
	// Closing the body unblocks a Read stuck on a silent upstream.
	ir.timer = time.AfterFunc(d, func() {
		ir.fired.Store(true)
		src.Close()
	})
	ir.timer.Stop()
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	if ir.fired.Load() {
		return 0, ErrIdleTimeout
	}
	ir.timer.Reset(ir.d)
	n, err := ir.src.Read(p)
	ir.timer.Stop()
	if err != nil && err != io.EOF && ir.fired.Load() {
		return n, ErrIdleTimeout
	}
	return n, err
}

func writePlain(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}
