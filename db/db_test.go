package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// recordingDriver is a minimal database/sql driver that remembers every statement.
type recordingDriver struct {
	mu    sync.Mutex
	execs []execCall
	row   []driver.Value
}

type execCall struct {
	query string
	args  []driver.Value
}

func (d *recordingDriver) Open(string) (driver.Conn, error) { return &recordingConn{d: d}, nil }

type recordingConn struct{ d *recordingDriver }

func (c *recordingConn) Prepare(query string) (driver.Stmt, error) {
	return &recordingStmt{d: c.d, query: query}, nil
}
func (c *recordingConn) Close() error              { return nil }
func (c *recordingConn) Begin() (driver.Tx, error) { return nil, driver.ErrSkip }

type recordingStmt struct {
	d     *recordingDriver
	query string
}

func (s *recordingStmt) Close() error  { return nil }
func (s *recordingStmt) NumInput() int { return -1 }

func (s *recordingStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.execs = append(s.d.execs, execCall{query: s.query, args: args})
	return driver.RowsAffected(1), nil
}

func (s *recordingStmt) Query(args []driver.Value) (driver.Rows, error) {
	return &singleRow{values: s.d.row}, nil
}

type singleRow struct {
	values []driver.Value
	done   bool
}

func (r *singleRow) Columns() []string {
	cols := make([]string, len(r.values))
	for i := range cols {
		cols[i] = "c"
	}
	return cols
}
func (r *singleRow) Close() error { return nil }
func (r *singleRow) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	copy(dest, r.values)
	return nil
}

var (
	registerOnce sync.Once
	testDriver   = &recordingDriver{}
)

func newTestJournal(t *testing.T) (*Journal, *recordingDriver) {
	t.Helper()
	registerOnce.Do(func() { sql.Register("journaltest", testDriver) })
	testDriver.mu.Lock()
	testDriver.execs = nil
	testDriver.mu.Unlock()

	conn, err := sql.Open("journaltest", "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	j := New(conn)
	j.now = func() time.Time { return time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC) }
	return j, testDriver
}

func TestPutUpload(t *testing.T) {
	j, d := newTestJournal(t)
	msg := &tgbotapi.Message{
		MessageID: 77,
		Date:      1700000000,
		From:      &tgbotapi.User{ID: 10, UserName: "alice", FirstName: "Alice"},
		Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup", Title: "Team"},
	}
	err := j.PutUpload(context.Background(), msg, Upload{Key: strings.Repeat("a", 32), FileID: "BQAC", FileName: "spec.pdf", FileSize: 2048, MimeType: "application/pdf"})
	if err != nil {
		t.Fatalf("PutUpload: %v", err)
	}

	if len(d.execs) != 3 {
		t.Fatalf("executed %d statements, want 3", len(d.execs))
	}
	for i, prefix := range []string{"INSERT IGNORE INTO users", "INSERT IGNORE INTO chats", "INSERT INTO uploads"} {
		if !strings.HasPrefix(d.execs[i].query, prefix) {
			t.Errorf("statement %d = %q, want prefix %q", i, d.execs[i].query, prefix)
		}
	}
	up := d.execs[2].args
	if up[0] != strings.Repeat("a", 32) || up[3] != int64(10) || up[4] != int64(-100) || up[7] != int64(2048) {
		t.Errorf("upload args = %v", up)
	}
}

func TestPutUploadWithoutSender(t *testing.T) {
	j, d := newTestJournal(t)
	msg := &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 5, Type: "channel"}}
	if err := j.PutUpload(context.Background(), msg, Upload{Key: "k"}); err != nil {
		t.Fatal(err)
	}
	if len(d.execs) != 2 {
		t.Errorf("executed %d statements, want 2 (chat + upload)", len(d.execs))
	}
	if err := j.PutUpload(context.Background(), nil, Upload{}); err == nil {
		t.Error("nil message accepted")
	}
}

func TestCounts(t *testing.T) {
	j, d := newTestJournal(t)
	d.row = []driver.Value{int64(3), int64(2), int64(9), int64(123456)}
	c, err := j.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c != (Counts{Users: 3, Chats: 2, Uploads: 9, Bytes: 123456}) {
		t.Errorf("Counts = %+v", c)
	}
}

func TestMigrate(t *testing.T) {
	j, d := newTestJournal(t)
	if err := j.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(d.execs) != len(schema) {
		t.Errorf("executed %d statements, want %d", len(d.execs), len(schema))
	}
}

func TestNilJournal(t *testing.T) {
	var j *Journal
	ctx := context.Background()
	if err := j.Migrate(ctx); err != nil {
		t.Error(err)
	}
	if err := j.PutUpload(ctx, &tgbotapi.Message{}, Upload{}); err != nil {
		t.Error(err)
	}
	if c, err := j.Counts(ctx); err != nil || c != (Counts{}) {
		t.Errorf("Counts = %+v, %v", c, err)
	}
	if err := j.Close(); err != nil {
		t.Error(err)
	}
}

func TestOpen(t *testing.T) {
	j, err := Open(context.Background(), "")
	if err != nil || j != nil {
		t.Fatalf("empty dsn: %v, %v", j, err)
	}
	if _, err := Open(context.Background(), "not a dsn"); err == nil {
		t.Error("malformed dsn accepted")
	}
}
