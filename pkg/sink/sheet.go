package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signchat/pkg/domain"
)

const deltaHeader = "--- New Messages ---"

// Row column layout of the quote sheet.
const (
	colSessionID = iota
	colEmail
	colTimestamp
	colMessageCount
	colConversation
	colStatus
	sheetColumns
)

// RowsClient is the tabular backend behind SheetSink. The production
// implementation talks to the Google Sheets values API; tests supply an
// in-memory fake.
type RowsClient interface {
	ReadRows(ctx context.Context) ([][]string, error)
	UpdateRow(ctx context.Context, rowIndex int, values []string) error
	AppendRow(ctx context.Context, values []string) error
}

// SheetSink keeps one spreadsheet row per customer email up to date with
// the session transcript. Rows are matched by email, not session id, so a
// returning customer keeps a single row across sessions.
type SheetSink struct {
	rows RowsClient
	now  func() time.Time
}

func NewSheetSink(rows RowsClient) *SheetSink {
	return &SheetSink{rows: rows, now: time.Now}
}

func (s *SheetSink) Name() string { return "sheet" }

// SyncSession writes or updates the row for the session's email. Sessions
// without a collected email are skipped: there is nothing to key the row on
// yet.
func (s *SheetSink) SyncSession(ctx context.Context, sess domain.Session) error {
	if sess.Email == "" {
		return nil
	}
	rows, err := s.rows.ReadRows(ctx)
	if err != nil {
		return fmt.Errorf("read sheet: %w", err)
	}

	count := len(sess.Messages)
	full := Transcript(sess.Messages) + logoBlock(sess.Assets)
	timestamp := s.now().UTC().Format(time.RFC3339)

	rowIndex, row := findRowByEmail(rows, sess.Email)
	if rowIndex < 0 {
		return s.rows.AppendRow(ctx, []string{
			sess.ID, sess.Email, timestamp, strconv.Itoa(count), full, string(domain.QuoteStatusNew),
		})
	}

	conversation := s.mergedConversation(row, sess, count)
	return s.rows.UpdateRow(ctx, rowIndex, []string{
		sess.ID, sess.Email, timestamp, strconv.Itoa(count), conversation, string(domain.QuoteStatusUpdated),
	})
}

// mergedConversation decides between delta-append and full rewrite. A
// stored count that does not parse or that claims more messages than the
// session holds means the row was edited by hand; rewrite it from the
// session, which is authoritative.
func (s *SheetSink) mergedConversation(row []string, sess domain.Session, count int) string {
	stored := ""
	storedCountRaw := ""
	if len(row) > colConversation {
		stored = row[colConversation]
	}
	if len(row) > colMessageCount {
		storedCountRaw = strings.TrimSpace(row[colMessageCount])
	}

	storedCount, err := strconv.Atoi(storedCountRaw)
	if err != nil || storedCount < 0 || storedCount > count {
		return Transcript(sess.Messages) + logoBlock(sess.Assets)
	}
	if storedCount == count {
		return stripLogoBlock(stored) + logoBlock(sess.Assets)
	}
	delta := Transcript(sess.Messages[storedCount:])
	return stripLogoBlock(stored) + "\n" + deltaHeader + "\n" + delta + logoBlock(sess.Assets)
}

func findRowByEmail(rows [][]string, email string) (int, []string) {
	for i, row := range rows {
		if len(row) > colEmail && strings.EqualFold(strings.TrimSpace(row[colEmail]), email) {
			return i, row
		}
	}
	return -1, nil
}

// GoogleSheetsClient implements RowsClient against the Sheets values REST
// API using a bearer token.
type GoogleSheetsClient struct {
	baseURL       string
	spreadsheetID string
	sheetName     string
	token         string
	httpClient    *http.Client
}

func NewGoogleSheetsClient(spreadsheetID, sheetName, token string) *GoogleSheetsClient {
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	return &GoogleSheetsClient{
		baseURL:       "https://sheets.googleapis.com/v4/spreadsheets",
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		token:         token,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

type sheetValues struct {
	Values [][]string `json:"values"`
}

// ReadRows fetches the data rows below the header.
func (c *GoogleSheetsClient) ReadRows(ctx context.Context) ([][]string, error) {
	readRange := fmt.Sprintf("%s!A2:F", c.sheetName)
	endpoint := fmt.Sprintf("%s/%s/values/%s", c.baseURL, c.spreadsheetID, url.PathEscape(readRange))
	var out sheetValues
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

// UpdateRow overwrites one data row. rowIndex is zero-based over the data
// rows returned by ReadRows; the sheet row is offset by the header.
func (c *GoogleSheetsClient) UpdateRow(ctx context.Context, rowIndex int, values []string) error {
	sheetRow := rowIndex + 2
	writeRange := fmt.Sprintf("%s!A%d:F%d", c.sheetName, sheetRow, sheetRow)
	endpoint := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW",
		c.baseURL, c.spreadsheetID, url.PathEscape(writeRange))
	body := sheetValues{Values: [][]string{values}}
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

// AppendRow adds a row after the existing data.
func (c *GoogleSheetsClient) AppendRow(ctx context.Context, values []string) error {
	appendRange := fmt.Sprintf("%s!A:F", c.sheetName)
	endpoint := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		c.baseURL, c.spreadsheetID, url.PathEscape(appendRange))
	body := sheetValues{Values: [][]string{values}}
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

func (c *GoogleSheetsClient) do(ctx context.Context, method, endpoint string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode sheets request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("build sheets request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sheets request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read sheets response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sheets api status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode sheets response: %w", err)
		}
	}
	return nil
}
