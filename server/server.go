// Package server exposes the relay over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkhipovkm/filerelay/config"
	"github.com/arkhipovkm/filerelay/registry"
	"github.com/arkhipovkm/filerelay/streamer"
	"github.com/arkhipovkm/filerelay/utils"
)

// Files is the read side of the registry.
type Files interface {
	Lookup(key string) (registry.FileRecord, error)
	Len() int
}

// Streamer relays one registered file.
type Streamer interface {
	HandleStream(ctx context.Context, w http.ResponseWriter, key string, mode streamer.Mode) (streamer.Result, error)
}

// FileInfo is the /api/file/{key} body.
type FileInfo struct {
	FileName          string    `json:"fileName"`
	FileSize          int64     `json:"fileSize"`
	FileSizeFormatted string    `json:"fileSizeFormatted"`
	MimeType          string    `json:"mimeType"`
	UploadedAt        time.Time `json:"uploadedAt"`
}

// Handler holds the route handlers.
type Handler struct {
	files    Files
	streamer Streamer
	logger   *zap.Logger
}

// NewRouter wires routes and middlewares.
func NewRouter(cfg config.AppConfig, files Files, s Streamer, logger *zap.Logger) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(utils.Ginzap(logger, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(logger, true))
	r.Use(Metrics())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Range", "Content-Type"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", "Accept-Ranges"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	h := &Handler{files: files, streamer: s, logger: logger}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	relay := r.Group("/")
	if cfg.RateLimitPerMinute > 0 {
		relay.Use(NewRateLimiter(cfg.RateLimitPerMinute).Middleware())
	}
	relay.GET("/stream/:key", h.Stream)
	relay.GET("/download/:key", h.Download)
	r.HEAD("/stream/:key", h.headFor(streamer.Inline))
	r.HEAD("/download/:key", h.headFor(streamer.Attachment))

	r.GET("/api/file/:key", h.FileInfo)
	r.GET("/file/:key", h.Page)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "files": h.files.Len()})
}

func (h *Handler) Stream(c *gin.Context) {
	h.relay(c, streamer.Inline)
}

func (h *Handler) Download(c *gin.Context) {
	h.relay(c, streamer.Attachment)
}

func (h *Handler) relay(c *gin.Context, mode streamer.Mode) {
	_, err := h.streamer.HandleStream(c.Request.Context(), c.Writer, c.Param("key"), mode)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		_ = c.Error(err)
	}
}

// headFor answers HEAD from the registry alone; the upstream is not contacted.
func (h *Handler) headFor(mode streamer.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := h.files.Lookup(c.Param("key"))
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.Header("Content-Type", rec.MimeType)
		c.Header("Content-Disposition", utils.ContentDisposition(mode.String(), rec.DisplayName))
		c.Header("Accept-Ranges", "bytes")
		c.Header("X-Content-Type-Options", "nosniff")
		if rec.SizeBytes > 0 {
			c.Header("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
		}
		c.Status(http.StatusOK)
	}
}

func (h *Handler) FileInfo(c *gin.Context) {
	rec, err := h.files.Lookup(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.JSON(http.StatusOK, FileInfo{
		FileName:          rec.DisplayName,
		FileSize:          rec.SizeBytes,
		FileSizeFormatted: utils.FormatFileSize(rec.SizeBytes),
		MimeType:          rec.MimeType,
		UploadedAt:        rec.CreatedAt,
	})
}
