package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"signchat/pkg/domain"
)

// ErrRecordNotFound is returned by the read-back lookups.
var ErrRecordNotFound = errors.New("docstore: record not found")

// SessionRecord is the durable snapshot of a chat session.
type SessionRecord struct {
	ID           string         `gorm:"primaryKey"`
	Email        string         `gorm:"index"`
	PhoneNumber  string         ``
	Messages     datatypes.JSON `gorm:"type:jsonb"`
	Assets       datatypes.JSON `gorm:"type:jsonb"`
	MessageCount int            `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null;index"`
}

func (SessionRecord) TableName() string { return "chat_sessions" }

// QuoteRecord is one submitted quote form, keyed by session.
type QuoteRecord struct {
	SessionID string         `gorm:"primaryKey"`
	Email     string         `gorm:"index"`
	Fields    datatypes.JSON `gorm:"type:jsonb"`
	Status    string         `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (QuoteRecord) TableName() string { return "quote_forms" }

// DocStore persists sessions and quote forms in Postgres. It doubles as the
// document sink in the fan-out and as the read side for quote retrieval and
// returning-customer rehydration.
type DocStore struct {
	db *gorm.DB
}

// NewDocStore connects and migrates the session and quote tables.
func NewDocStore(dsn string) (*DocStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}, &QuoteRecord{}); err != nil {
		return nil, fmt.Errorf("migrate docstore: %w", err)
	}
	return &DocStore{db: db}, nil
}

// NewDocStoreWithDB wraps an existing connection. Used by tests.
func NewDocStoreWithDB(db *gorm.DB) *DocStore { return &DocStore{db: db} }

// DB exposes the underlying connection so other components can share it.
func (d *DocStore) DB() *gorm.DB { return d.db }

func (d *DocStore) Name() string { return "docstore" }

// SyncSession upserts the session snapshot by session id.
func (d *DocStore) SyncSession(ctx context.Context, s domain.Session) error {
	record, err := sessionToRecord(s)
	if err != nil {
		return err
	}
	if err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "phone_number", "messages", "assets", "message_count", "updated_at",
		}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// FindLatestSessionByEmail returns the most recently updated session
// snapshot stored for an email. Drives returning-customer rehydration.
func (d *DocStore) FindLatestSessionByEmail(ctx context.Context, email string) (domain.Session, error) {
	var record SessionRecord
	err := d.db.WithContext(ctx).
		Where("email = ?", email).
		Order("updated_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Session{}, ErrRecordNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("find session by email: %w", err)
	}
	return sessionFromRecord(record)
}

// SaveQuote upserts a quote form by session id. A resubmission for the same
// session keeps the original creation time and flips the status to updated.
func (d *DocStore) SaveQuote(ctx context.Context, q domain.QuoteForm) (domain.QuoteForm, error) {
	fields, err := json.Marshal(q.Fields)
	if err != nil {
		return domain.QuoteForm{}, fmt.Errorf("encode quote fields: %w", err)
	}
	now := time.Now().UTC()
	record := QuoteRecord{
		SessionID: q.SessionID,
		Email:     q.Email,
		Fields:    fields,
		Status:    string(domain.QuoteStatusNew),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = d.db.WithContext(ctx).Clauses(quoteUpsertClause(q.Email, fields, now)).Create(&record).Error
	if err != nil {
		return domain.QuoteForm{}, fmt.Errorf("upsert quote: %w", err)
	}
	return d.GetQuote(ctx, q.SessionID)
}

// quoteUpsertClause resolves a resubmission for the same session into an
// update of the existing row: the form fields and email are replaced, the
// status flips to updated and created_at is left untouched.
func quoteUpsertClause(email string, fields datatypes.JSON, now time.Time) clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"email":      email,
			"fields":     fields,
			"status":     string(domain.QuoteStatusUpdated),
			"updated_at": now,
		}),
	}
}

// GetQuote returns the quote form stored for a session.
func (d *DocStore) GetQuote(ctx context.Context, sessionID string) (domain.QuoteForm, error) {
	var record QuoteRecord
	err := d.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.QuoteForm{}, ErrRecordNotFound
	}
	if err != nil {
		return domain.QuoteForm{}, fmt.Errorf("get quote: %w", err)
	}
	return quoteFromRecord(record)
}

func sessionToRecord(s domain.Session) (SessionRecord, error) {
	messages, err := json.Marshal(s.Messages)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("encode messages: %w", err)
	}
	assets, err := json.Marshal(s.Assets)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("encode assets: %w", err)
	}
	return SessionRecord{
		ID:           s.ID,
		Email:        s.Email,
		PhoneNumber:  s.PhoneNumber,
		Messages:     messages,
		Assets:       assets,
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

func sessionFromRecord(r SessionRecord) (domain.Session, error) {
	s := domain.Session{
		ID:          r.ID,
		Email:       r.Email,
		PhoneNumber: r.PhoneNumber,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Messages) > 0 {
		if err := json.Unmarshal(r.Messages, &s.Messages); err != nil {
			return domain.Session{}, fmt.Errorf("decode messages: %w", err)
		}
	}
	if len(r.Assets) > 0 {
		if err := json.Unmarshal(r.Assets, &s.Assets); err != nil {
			return domain.Session{}, fmt.Errorf("decode assets: %w", err)
		}
	}
	return s, nil
}

func quoteFromRecord(r QuoteRecord) (domain.QuoteForm, error) {
	q := domain.QuoteForm{
		SessionID: r.SessionID,
		Email:     r.Email,
		Status:    domain.QuoteStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &q.Fields); err != nil {
			return domain.QuoteForm{}, fmt.Errorf("decode quote fields: %w", err)
		}
	}
	return q, nil
}
