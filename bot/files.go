package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arkhipovkm/filerelay/registry"
)

// IncomingFile is a file attached to a chat message.
type IncomingFile struct {
	FileID   string
	Name     string
	Size     int64
	MimeType string
}

// ExtractFile picks the file out of msg. Documents keep their own name; videos,
// untitled audio and photos get one stamped with now in milliseconds.
func ExtractFile(msg *tgbotapi.Message, now time.Time) (IncomingFile, bool) {
	if msg == nil {
		return IncomingFile{}, false
	}
	ms := now.UnixMilli()
	switch {
	case msg.Document != nil:
		d := msg.Document
		name := d.FileName
		if name == "" {
			name = "document"
		}
		return IncomingFile{FileID: d.FileID, Name: name, Size: int64(d.FileSize), MimeType: orDefault(d.MimeType)}, true
	case msg.Video != nil:
		v := msg.Video
		return IncomingFile{FileID: v.FileID, Name: fmt.Sprintf("video_%d.mp4", ms), Size: int64(v.FileSize), MimeType: orDefault(v.MimeType)}, true
	case msg.Audio != nil:
		a := msg.Audio
		name := a.Title
		if name == "" {
			name = fmt.Sprintf("audio_%d.mp3", ms)
		}
		return IncomingFile{FileID: a.FileID, Name: name, Size: int64(a.FileSize), MimeType: orDefault(a.MimeType)}, true
	case len(msg.Photo) > 0:
		// Sizes are sent smallest first.
		p := msg.Photo[len(msg.Photo)-1]
		return IncomingFile{FileID: p.FileID, Name: fmt.Sprintf("photo_%d.jpg", ms), Size: int64(p.FileSize), MimeType: "image/jpeg"}, true
	}
	return IncomingFile{}, false
}

func orDefault(mimeType string) string {
	if mimeType == "" {
		return registry.DefaultMimeType
	}
	return mimeType
}
