package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arkhipovkm/filerelay/db"
	"github.com/arkhipovkm/filerelay/registry"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeJournal struct {
	mu      sync.Mutex
	uploads []db.Upload
	counts  db.Counts
}

func (f *fakeJournal) PutUpload(_ context.Context, _ *tgbotapi.Message, up db.Upload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, up)
	return nil
}

func (f *fakeJournal) Counts(context.Context) (db.Counts, error) { return f.counts, nil }

func publicURL(path string) string { return "https://relay.example.com" + path }

func newTestBot(maxSize int64) (*Bot, *fakeSender, *registry.Registry, *fakeJournal) {
	reg := registry.New()
	sender := &fakeSender{}
	journal := &fakeJournal{}
	b := New(sender, registry.NewIntake(reg, maxSize), reg, journal, publicURL, nil)
	b.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return b, sender, reg, journal
}

func command(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 42},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func TestExtractFile(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	tests := []struct {
		name string
		msg  *tgbotapi.Message
		want IncomingFile
		ok   bool
	}{
		{
			"document keeps its name",
			&tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d1", FileName: "report.pdf", MimeType: "application/pdf", FileSize: 2048}},
			IncomingFile{FileID: "d1", Name: "report.pdf", Size: 2048, MimeType: "application/pdf"},
			true,
		},
		{
			"nameless document",
			&tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d2", FileSize: 1}},
			IncomingFile{FileID: "d2", Name: "document", Size: 1, MimeType: registry.DefaultMimeType},
			true,
		},
		{
			"video gets a generated name",
			&tgbotapi.Message{Video: &tgbotapi.Video{FileID: "v1", MimeType: "video/mp4", FileSize: 5 << 20}},
			IncomingFile{FileID: "v1", Name: "video_1700000000123.mp4", Size: 5 << 20, MimeType: "video/mp4"},
			true,
		},
		{
			"audio uses its title",
			&tgbotapi.Message{Audio: &tgbotapi.Audio{FileID: "a1", Title: "Song", MimeType: "audio/mpeg", FileSize: 100}},
			IncomingFile{FileID: "a1", Name: "Song", Size: 100, MimeType: "audio/mpeg"},
			true,
		},
		{
			"audio without title",
			&tgbotapi.Message{Audio: &tgbotapi.Audio{FileID: "a2", FileSize: 100}},
			IncomingFile{FileID: "a2", Name: "audio_1700000000123.mp3", Size: 100, MimeType: registry.DefaultMimeType},
			true,
		},
		{
			"photo takes the largest size",
			&tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "small", FileSize: 10}, {FileID: "big", FileSize: 900}}},
			IncomingFile{FileID: "big", Name: "photo_1700000000123.jpg", Size: 900, MimeType: "image/jpeg"},
			true,
		},
		{"plain text", &tgbotapi.Message{Text: "hi"}, IncomingFile{}, false},
		{"nil", nil, IncomingFile{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFile(tt.msg, now)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractFile = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestHandleFileRegistersAndReplies(t *testing.T) {
	b, sender, reg, journal := newTestBot(1 << 30)
	msg := &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 42},
		Document: &tgbotapi.Document{FileID: "BQAC", FileName: "a<b>.pdf", MimeType: "application/pdf", FileSize: 1536},
	}
	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})

	if reg.Len() != 1 {
		t.Fatalf("registry Len = %d, want 1", reg.Len())
	}
	if len(journal.uploads) != 1 {
		t.Fatalf("journal uploads = %d, want 1", len(journal.uploads))
	}
	key := journal.uploads[0].Key
	rec, err := reg.Lookup(key)
	if err != nil {
		t.Fatal(err)
	}
	if rec.UpstreamLocator != "BQAC" || rec.ChatID != 42 || rec.DisplayName != "a<b>.pdf" {
		t.Errorf("record = %+v", rec)
	}

	reply := sender.last(t)
	if reply.ChatID != 42 || reply.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("reply to %d in %q", reply.ChatID, reply.ParseMode)
	}
	for _, want := range []string{"a&lt;b&gt;.pdf", "1.5 KB", "https://relay.example.com/stream/" + key, "https://relay.example.com/file/" + key} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("reply missing %q:\n%s", want, reply.Text)
		}
	}

	kb, ok := reply.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("ReplyMarkup = %T", reply.ReplyMarkup)
	}
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("keyboard rows = %d, want 2", len(kb.InlineKeyboard))
	}
	if u := kb.InlineKeyboard[0][0].URL; u == nil || *u != "https://relay.example.com/stream/"+key {
		t.Errorf("stream button url = %v", u)
	}
	if d := kb.InlineKeyboard[1][0].CallbackData; d == nil || *d != "copy_stream_"+key {
		t.Errorf("copy button data = %v", d)
	}
}

func TestHandleFileOverLimit(t *testing.T) {
	b, sender, reg, journal := newTestBot(4 << 30)
	msg := &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 7},
		Video: &tgbotapi.Video{FileID: "v", FileSize: 4<<30 + 1},
	}
	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})

	if reg.Len() != 0 {
		t.Errorf("registry Len = %d after oversize file", reg.Len())
	}
	if len(journal.uploads) != 0 {
		t.Error("oversize file journaled")
	}
	if got := sender.last(t).Text; got != "❌ File size exceeds 4GB limit!" {
		t.Errorf("reply = %q", got)
	}
}

func TestLocalBaseURLDropsURLButtons(t *testing.T) {
	kb := linkKeyboard("k", "http://localhost:3000/stream/k", "http://localhost:3000/file/k")
	if len(kb.InlineKeyboard) != 1 {
		t.Fatalf("rows = %d, want only the copy row", len(kb.InlineKeyboard))
	}
}

func TestCallbackCopyLinks(t *testing.T) {
	b, sender, _, _ := newTestBot(1 << 30)
	tests := []struct {
		data string
		want string
	}{
		{"copy_stream_abc", "<code>https://relay.example.com/stream/abc</code>"},
		{"copy_web_abc", "<code>https://relay.example.com/file/abc</code>"},
	}
	for _, tt := range tests {
		b.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			Data:    tt.data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 9}},
		}})
		if got := sender.last(t).Text; !strings.Contains(got, tt.want) {
			t.Errorf("%s: reply %q missing %q", tt.data, got, tt.want)
		}
	}
	if len(sender.requests) != 2 {
		t.Errorf("callbacks answered %d times, want 2", len(sender.requests))
	}

	before := len(sender.sent)
	b.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "x", Data: "other", Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 9}}}})
	if len(sender.sent) != before {
		t.Error("unknown callback produced a message")
	}
	if len(sender.requests) != 3 {
		t.Error("unknown callback was not answered")
	}
}

func TestCommands(t *testing.T) {
	b, sender, reg, journal := newTestBot(4 << 30)
	journal.counts = db.Counts{Users: 2, Chats: 3, Uploads: 4, Bytes: 1024}
	if _, err := reg.Issue(registry.Metadata{UpstreamLocator: "x"}); err != nil {
		t.Fatal(err)
	}

	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/start")})
	if got := sender.last(t).Text; !strings.Contains(got, "up to 4 GB") {
		t.Errorf("/start = %q", got)
	}

	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/stats")})
	got := sender.last(t).Text
	for _, want := range []string{"Files registered: 1", "Users: 2", "Uploads: 4 (1 KB)"} {
		if !strings.Contains(got, want) {
			t.Errorf("/stats missing %q in %q", want, got)
		}
	}

	before := len(sender.sent)
	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: command("/unknown")})
	if len(sender.sent) != before {
		t.Error("unknown command answered")
	}
}

type failingIntake struct{}

func (failingIntake) RegisterFile(string, int64, string, string, int64) (string, error) {
	return "", errors.New("boom")
}
func (failingIntake) MaxSize() int64 { return 1 }

func TestHandleFileRegistrationError(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, failingIntake{}, registry.New(), nil, publicURL, nil)
	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 1},
		Document: &tgbotapi.Document{FileID: "d", FileName: "x"},
	}})
	if got := sender.last(t).Text; got != "❌ Error processing file. Please try again." {
		t.Errorf("reply = %q", got)
	}
}

func TestRunDrainsUpdates(t *testing.T) {
	b, _, reg, _ := newTestBot(1 << 30)
	updates := make(chan tgbotapi.Update, 50)
	for i := 0; i < 50; i++ {
		updates <- tgbotapi.Update{UpdateID: i, Message: &tgbotapi.Message{
			Chat:     &tgbotapi.Chat{ID: int64(i)},
			Document: &tgbotapi.Document{FileID: "f", FileName: "n", FileSize: 1},
		}}
	}
	close(updates)

	b.Run(context.Background(), updates, 4)
	if reg.Len() != 50 {
		t.Errorf("registered %d files, want 50", reg.Len())
	}
}

func TestAPIClientOutlastsLongPoll(t *testing.T) {
	c := apiClient()
	if c.Timeout <= pollTimeout*time.Second {
		t.Errorf("client timeout %v does not outlast the %ds long poll", c.Timeout, pollTimeout)
	}
}
