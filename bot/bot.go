// Package bot receives files from Telegram chats and answers with relay links.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/arkhipovkm/filerelay/db"
	"github.com/arkhipovkm/filerelay/registry"
	"github.com/arkhipovkm/filerelay/utils"
)

const (
	copyStreamPrefix = "copy_stream_"
	copyWebPrefix    = "copy_web_"
)

// Sender is the subset of *tgbotapi.BotAPI the handlers use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Intake registers received files under the size ceiling.
type Intake interface {
	RegisterFile(displayName string, sizeBytes int64, mimeType, upstreamLocator string, chatID int64) (string, error)
	MaxSize() int64
}

// Journal records uploads for /stats.
type Journal interface {
	PutUpload(ctx context.Context, msg *tgbotapi.Message, up db.Upload) error
	Counts(ctx context.Context) (db.Counts, error)
}

// Sizer reports how many files are registered.
type Sizer interface {
	Len() int
}

// Bot handles updates. It is safe to run several workers over one Bot.
type Bot struct {
	api       Sender
	intake    Intake
	files     Sizer
	journal   Journal
	publicURL func(path string) string
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a Bot. publicURL turns "/stream/<key>" into an absolute link.
// A nil journal disables journaling.
func New(api Sender, intake Intake, files Sizer, journal Journal, publicURL func(string) string, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if journal == nil {
		journal = (*db.Journal)(nil)
	}
	return &Bot{
		api:       api,
		intake:    intake,
		files:     files,
		journal:   journal,
		publicURL: publicURL,
		logger:    logger,
		now:       time.Now,
	}
}

// Run drains updates with n workers until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update, n int) {
	var wg sync.WaitGroup
	for w := 0; w < max(n, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.process(ctx, updates)
		}()
	}
	wg.Wait()
}

func (b *Bot) process(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update. Panics are logged, never propagated to the worker.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panic", zap.Int("update_id", update.UpdateID), zap.Any("panic", r))
		}
	}()
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	if file, ok := ExtractFile(msg, b.now()); ok {
		b.handleFile(ctx, msg, file)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
	}
}

func (b *Bot) handleFile(ctx context.Context, msg *tgbotapi.Message, file IncomingFile) {
	chatID := msg.Chat.ID
	log := b.logger.With(zap.Int64("chat_id", chatID), zap.String("file_name", file.Name), zap.Int64("file_size", file.Size))

	key, err := b.intake.RegisterFile(file.Name, file.Size, file.MimeType, file.FileID, chatID)
	if errors.Is(err, registry.ErrSizeLimitExceeded) {
		log.Info("file rejected, over size limit")
		b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("❌ File size exceeds %s limit!", strings.ReplaceAll(utils.FormatFileSize(b.intake.MaxSize()), " ", ""))))
		return
	}
	if err != nil {
		log.Error("file registration failed", zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, "❌ Error processing file. Please try again."))
		return
	}
	log.Info("file registered", zap.String("key", key))

	streamLink := b.publicURL("/stream/" + key)
	pageLink := b.publicURL("/file/" + key)

	reply := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"✅ File uploaded successfully!\n\n📁 <b>File:</b> %s\n📏 <b>Size:</b> %s\n🔗 <b>Stream Link:</b> %s\n🌐 <b>Web Page:</b> %s",
		html.EscapeString(file.Name),
		utils.FormatFileSize(file.Size),
		html.EscapeString(streamLink),
		html.EscapeString(pageLink),
	))
	reply.ParseMode = tgbotapi.ModeHTML
	reply.DisableWebPagePreview = true
	reply.ReplyMarkup = linkKeyboard(key, streamLink, pageLink)
	b.send(reply)

	if err := b.journal.PutUpload(ctx, msg, db.Upload{Key: key, FileID: file.FileID, FileName: file.Name, FileSize: file.Size, MimeType: file.MimeType}); err != nil {
		log.Warn("journal write failed", zap.Error(err))
	}
}

// linkKeyboard builds the reply buttons. Telegram refuses URL buttons pointing at
// localhost, so that row is left out for local setups.
func linkKeyboard(key, streamLink, pageLink string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if publicHost(streamLink) {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("🎬 Stream", streamLink),
			tgbotapi.NewInlineKeyboardButtonURL("📱 Web Page", pageLink),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📋 Copy Stream Link", copyStreamPrefix+key),
		tgbotapi.NewInlineKeyboardButtonData("📋 Copy Web Link", copyWebPrefix+key),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func publicHost(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "":
		return false
	}
	return true
}

func (b *Bot) handleCallback(cq *tgbotapi.CallbackQuery) {
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.logger.Warn("answer callback failed", zap.Error(err))
		}
	}()
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	var label, link string
	switch {
	case strings.HasPrefix(cq.Data, copyStreamPrefix):
		label, link = "Stream Link", b.publicURL("/stream/"+strings.TrimPrefix(cq.Data, copyStreamPrefix))
	case strings.HasPrefix(cq.Data, copyWebPrefix):
		label, link = "Web Page Link", b.publicURL("/file/"+strings.TrimPrefix(cq.Data, copyWebPrefix))
	default:
		return
	}
	msg := tgbotapi.NewMessage(cq.Message.Chat.ID, fmt.Sprintf("📋 %s:\n<code>%s</code>", label, html.EscapeString(link)))
	msg.ParseMode = tgbotapi.ModeHTML
	b.send(msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, "")
	reply.ParseMode = tgbotapi.ModeHTML
	switch msg.Command() {
	case "start", "help":
		reply.Text = welcomeText(utils.FormatFileSize(b.intake.MaxSize()))
	case "stats":
		counts, err := b.journal.Counts(ctx)
		if err != nil {
			b.logger.Warn("journal counts failed", zap.Error(err))
		}
		reply.Text = fmt.Sprintf("📊 <b>Stats</b>\n\nFiles registered: %d\nUsers: %d, Chats: %d\nUploads: %d (%s)",
			b.files.Len(), counts.Users, counts.Chats, counts.Uploads, utils.FormatFileSize(counts.Bytes))
	default:
		return
	}
	b.send(reply)
}

func welcomeText(limit string) string {
	return "🤖 <b>File Streaming Bot</b>\n\n" +
		"Send me any file (up to " + limit + ") and I'll generate:\n" +
		"• 🎬 Direct stream link\n" +
		"• 🌐 Web page\n" +
		"• 📥 Download option\n\n" +
		"Supported formats: Videos, Documents, Audio, Images"
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("telegram send failed", zap.Error(err))
	}
}
