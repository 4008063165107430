// Package db keeps an optional MySQL journal of who uploaded what.
// The relay never reads it back to serve files; the registry stays in memory.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username VARCHAR(64),
		first_name VARCHAR(255),
		last_name VARCHAR(255),
		language_code VARCHAR(16),
		is_bot BOOLEAN
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id BIGINT PRIMARY KEY,
		type VARCHAR(16),
		title VARCHAR(255),
		username VARCHAR(64),
		first_name VARCHAR(255),
		last_name VARCHAR(255)
	)`,
	`CREATE TABLE IF NOT EXISTS uploads (
		file_key CHAR(32) PRIMARY KEY,
		message_id BIGINT,
		date BIGINT,
		from_id BIGINT,
		chat_id BIGINT,
		file_id VARCHAR(255),
		file_name VARCHAR(1024),
		file_size BIGINT,
		mime_type VARCHAR(255),
		created_at DATETIME
	)`,
}

// Upload is what the bot registered for a message.
type Upload struct {
	Key      string
	FileID   string
	FileName string
	FileSize int64
	MimeType string
}

// Counts feeds the /stats command.
type Counts struct {
	Users   int64
	Chats   int64
	Uploads int64
	Bytes   int64
}

// Journal writes intake events. A nil *Journal is valid and does nothing.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to MySQL. An empty dsn returns a nil journal.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, nil
	}
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	conn.SetConnMaxLifetime(3 * time.Minute)
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(10)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return New(conn), nil
}

// New wraps an open connection pool.
func New(conn *sql.DB) *Journal {
	return &Journal{db: conn, now: time.Now}
}

// Migrate creates the tables when missing.
func (j *Journal) Migrate(ctx context.Context) error {
	if j == nil {
		return nil
	}
	for _, stmt := range schema {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// PutUpload records the sender, the chat and the upload itself.
func (j *Journal) PutUpload(ctx context.Context, msg *tgbotapi.Message, up Upload) error {
	if j == nil {
		return nil
	}
	if msg == nil {
		return errors.New("message is nil, upload will not be inserted")
	}
	var fromID int64
	if msg.From != nil {
		fromID = msg.From.ID
		_, err := j.db.ExecContext(ctx, "INSERT IGNORE INTO users (id, username, first_name, last_name, language_code, is_bot) VALUES (?, ?, ?, ?, ?, ?)",
			msg.From.ID,
			msg.From.UserName,
			msg.From.FirstName,
			msg.From.LastName,
			msg.From.LanguageCode,
			msg.From.IsBot,
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
	}
	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
		_, err := j.db.ExecContext(ctx, "INSERT IGNORE INTO chats (id, type, title, username, first_name, last_name) VALUES (?, ?, ?, ?, ?, ?)",
			msg.Chat.ID,
			msg.Chat.Type,
			msg.Chat.Title,
			msg.Chat.UserName,
			msg.Chat.FirstName,
			msg.Chat.LastName,
		)
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
	}
	_, err := j.db.ExecContext(ctx, "INSERT INTO uploads (file_key, message_id, date, from_id, chat_id, file_id, file_name, file_size, mime_type, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		up.Key,
		int64(msg.MessageID),
		int64(msg.Date),
		fromID,
		chatID,
		up.FileID,
		up.FileName,
		up.FileSize,
		up.MimeType,
		j.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// Counts returns journal totals. A nil journal reports zeros.
func (j *Journal) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if j == nil {
		return c, nil
	}
	err := j.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM chats),
		(SELECT COUNT(*) FROM uploads),
		(SELECT COALESCE(SUM(file_size), 0) FROM uploads)`).Scan(&c.Users, &c.Chats, &c.Uploads, &c.Bytes)
	if err != nil {
		return c, fmt.Errorf("count journal: %w", err)
	}
	return c, nil
}

// Close releases the pool.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
