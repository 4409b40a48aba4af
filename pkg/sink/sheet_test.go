package sink

import (
	"context"
	"strings"
	"testing"
	"time"

	"signchat/pkg/domain"
)

type fakeRows struct {
	rows    [][]string
	readErr error
}

func (f *fakeRows) ReadRows(ctx context.Context) ([][]string, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([][]string, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeRows) UpdateRow(ctx context.Context, rowIndex int, values []string) error {
	f.rows[rowIndex] = values
	return nil
}

func (f *fakeRows) AppendRow(ctx context.Context, values []string) error {
	f.rows = append(f.rows, values)
	return nil
}

func sheetSession(email string, messages ...string) domain.Session {
	s := domain.Session{ID: "session_1700000000_ab12cd34", Email: email}
	for i, content := range messages {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		s.Messages = append(s.Messages, domain.Message{Role: role, Content: content})
	}
	return s
}

func TestSheetSinkSkipsWithoutEmail(t *testing.T) {
	rows := &fakeRows{}
	sink := NewSheetSink(rows)
	if err := sink.SyncSession(context.Background(), sheetSession("", "hi")); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}
	if len(rows.rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows.rows))
	}
}

func TestSheetSinkAppendsNewRow(t *testing.T) {
	rows := &fakeRows{}
	sink := NewSheetSink(rows)
	sink.now = func() time.Time { return time.Unix(1700000000, 0) }

	sess := sheetSession("buyer@example.com", "hi", "hello")
	if err := sink.SyncSession(context.Background(), sess); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}
	if len(rows.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows.rows))
	}
	row := rows.rows[0]
	if row[colEmail] != "buyer@example.com" {
		t.Errorf("email = %q", row[colEmail])
	}
	if row[colMessageCount] != "2" {
		t.Errorf("message count = %q", row[colMessageCount])
	}
	if row[colStatus] != "new" {
		t.Errorf("status = %q", row[colStatus])
	}
	if !strings.Contains(row[colConversation], "Customer: hi") {
		t.Errorf("conversation = %q", row[colConversation])
	}
}

func TestSheetSinkDeltaAppend(t *testing.T) {
	rows := &fakeRows{rows: [][]string{
		{"old_session", "buyer@example.com", "2026-01-01T00:00:00Z", "2", "Customer: hi\nAssistant: hello", "new"},
	}}
	sink := NewSheetSink(rows)

	sess := sheetSession("buyer@example.com", "hi", "hello", "I need a sign", "Sure!")
	if err := sink.SyncSession(context.Background(), sess); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}
	row := rows.rows[0]
	if row[colSessionID] != sess.ID {
		t.Errorf("session id not refreshed: %q", row[colSessionID])
	}
	if row[colMessageCount] != "4" {
		t.Errorf("message count = %q", row[colMessageCount])
	}
	if row[colStatus] != "updated" {
		t.Errorf("status = %q", row[colStatus])
	}
	conv := row[colConversation]
	if !strings.Contains(conv, deltaHeader) {
		t.Errorf("conversation missing delta header: %q", conv)
	}
	if !strings.Contains(conv, "Customer: I need a sign") {
		t.Errorf("conversation missing new message: %q", conv)
	}
	if strings.Count(conv, "Customer: hi") != 1 {
		t.Errorf("old messages duplicated: %q", conv)
	}
}

func TestSheetSinkRewritesWhenStoredCountAhead(t *testing.T) {
	rows := &fakeRows{rows: [][]string{
		{"old_session", "buyer@example.com", "2026-01-01T00:00:00Z", "9", "garbled by hand edit", "new"},
	}}
	sink := NewSheetSink(rows)

	sess := sheetSession("buyer@example.com", "hi", "hello")
	if err := sink.SyncSession(context.Background(), sess); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}
	conv := rows.rows[0][colConversation]
	if strings.Contains(conv, "garbled") {
		t.Errorf("corrupt conversation kept: %q", conv)
	}
	if conv != "Customer: hi\nAssistant: hello" {
		t.Errorf("conversation = %q", conv)
	}
}

func TestSheetSinkRewritesOnUnparsableCount(t *testing.T) {
	rows := &fakeRows{rows: [][]string{
		{"old_session", "buyer@example.com", "2026-01-01T00:00:00Z", "many", "junk", "new"},
	}}
	sink := NewSheetSink(rows)

	sess := sheetSession("buyer@example.com", "hi")
	if err := sink.SyncSession(context.Background(), sess); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}
	if rows.rows[0][colConversation] != "Customer: hi" {
		t.Errorf("conversation = %q", rows.rows[0][colConversation])
	}
}

func TestSheetSinkLogoBlockMovesToEnd(t *testing.T) {
	rows := &fakeRows{rows: [][]string{
		{"old_session", "buyer@example.com", "2026-01-01T00:00:00Z", "2",
			"Customer: hi\nAssistant: hello\n\n" + logoBlockHeader + "\nold.png: http://old", "new"},
	}}
	sink := NewSheetSink(rows)

	sess := sheetSession("buyer@example.com", "hi", "hello", "uploaded my logo", "Got it")
	sess.Assets = []domain.Asset{
		{Filename: "old.png", URL: "http://old"},
		{Filename: "new.svg", URL: "http://new"},
	}
	if err := sink.SyncSession(context.Background(), sess); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}
	conv := rows.rows[0][colConversation]
	if strings.Count(conv, logoBlockHeader) != 1 {
		t.Errorf("logo block duplicated: %q", conv)
	}
	if !strings.HasSuffix(conv, "new.svg: http://new") {
		t.Errorf("logo block not at end: %q", conv)
	}
	idx := strings.Index(conv, logoBlockHeader)
	if !strings.Contains(conv[:idx], "Customer: uploaded my logo") {
		t.Errorf("delta should come before logo block: %q", conv)
	}
}

func TestSheetSinkMatchesEmailCaseInsensitively(t *testing.T) {
	rows := &fakeRows{rows: [][]string{
		{"old_session", "Buyer@Example.com", "2026-01-01T00:00:00Z", "1", "Customer: hi", "new"},
	}}
	sink := NewSheetSink(rows)

	sess := sheetSession("buyer@example.com", "hi", "hello")
	if err := sink.SyncSession(context.Background(), sess); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}
	if len(rows.rows) != 1 {
		t.Fatalf("row should be updated in place, got %d rows", len(rows.rows))
	}
}
