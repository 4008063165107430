package server

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"github.com/arkhipovkm/filerelay/utils"
)

var strictPolicy = bluemonday.StrictPolicy()

var pageTemplate = template.Must(template.New("file").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta property="og:title" content="{{.Name}}">
    <meta property="og:description" content="{{.Size}}">
    <title>{{.Name}} - File Stream</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            min-height: 100vh; display: flex; align-items: center; justify-content: center; padding: 20px;
        }
        .container {
            background: rgba(255, 255, 255, 0.95); border-radius: 20px; padding: 40px;
            max-width: 600px; width: 100%; box-shadow: 0 20px 40px rgba(0, 0, 0, 0.1); text-align: center;
        }
        .file-icon { font-size: 4rem; margin-bottom: 20px; }
        .file-name { font-size: 1.5rem; font-weight: 600; color: #333; margin-bottom: 10px; word-break: break-all; }
        .file-info { color: #666; margin-bottom: 30px; }
        .buttons { display: flex; gap: 15px; justify-content: center; flex-wrap: wrap; margin-bottom: 30px; }
        .btn {
            padding: 12px 24px; border-radius: 10px; font-weight: 600; text-decoration: none;
            min-width: 140px; display: inline-flex; justify-content: center;
        }
        .btn-primary { background: linear-gradient(45deg, #667eea, #764ba2); color: white; }
        .btn-secondary { background: #f8f9fa; color: #333; border: 2px solid #e9ecef; }
        .share { margin-top: 30px; padding-top: 30px; border-top: 1px solid #e9ecef; }
        .copy-btn { padding: 8px 16px; border: none; border-radius: 8px; background: #28a745; color: white; cursor: pointer; }
        video, audio, img { max-width: 100%; margin-bottom: 20px; border-radius: 10px; }
    </style>
</head>
<body>
    <div class="container">
        {{if eq .Kind "video"}}<video controls preload="metadata" src="{{.StreamURL}}"></video>
        {{else if eq .Kind "audio"}}<audio controls preload="metadata" src="{{.StreamURL}}"></audio>
        {{else if eq .Kind "image"}}<img alt="" src="{{.StreamURL}}">
        {{else}}<div class="file-icon">📁</div>{{end}}
        <h1 class="file-name">{{.Name}}</h1>
        <div class="file-info">Size: {{.Size}} • Uploaded: {{.Uploaded}}</div>
        <div class="buttons">
            <a href="{{.StreamURL}}" class="btn btn-primary" target="_blank">🎬 Stream File</a>
            <a href="{{.DownloadURL}}" class="btn btn-secondary">📥 Download</a>
        </div>
        <div class="share">
            <button class="copy-btn" data-link="{{.StreamURL}}">📋 Copy Stream Link</button>
            <button class="copy-btn" data-link="">📋 Copy Page Link</button>
        </div>
    </div>
    <script>
        document.querySelectorAll('.copy-btn').forEach(function (b) {
            b.addEventListener('click', function () {
                var link = b.dataset.link ? new URL(b.dataset.link, window.location.href).href : window.location.href;
                navigator.clipboard.writeText(link);
            });
        });
    </script>
</body>
</html>`))

type pageData struct {
	Name        template.HTML
	Size        string
	Uploaded    string
	Kind        string
	StreamURL   string
	DownloadURL string
}

// Page renders the landing page of a file.
func (h *Handler) Page(c *gin.Context) {
	key := c.Param("key")
	rec, err := h.files.Lookup(key)
	if err != nil {
		c.String(http.StatusNotFound, "File not found")
		return
	}

	data := pageData{
		// StrictPolicy strips every tag and escapes the rest, so the result is safe to embed as is.
		Name:        template.HTML(strictPolicy.Sanitize(rec.DisplayName)),
		Size:        utils.FormatFileSize(rec.SizeBytes),
		Uploaded:    rec.CreatedAt.UTC().Format("2006-01-02"),
		Kind:        mediaKind(rec.MimeType),
		StreamURL:   "/stream/" + key,
		DownloadURL: "/download/" + key,
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "Error rendering page")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func mediaKind(mimeType string) string {
	for _, kind := range []string{"video", "audio", "image"} {
		if strings.HasPrefix(mimeType, kind+"/") {
			return kind
		}
	}
	return "other"
}
