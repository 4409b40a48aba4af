package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signchat/internal/util"
	"signchat/pkg/ai"
)

const defaultEmbeddingDim = 768

// ChunkModel is one embedded knowledge passage.
type ChunkModel struct {
	ID        string           `gorm:"primaryKey"`
	Content   string           `gorm:"type:text;not null"`
	Metadata  datatypes.JSON   `gorm:"type:jsonb"`
	Embedding *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt time.Time        `gorm:"not null;index"`
}

func (ChunkModel) TableName() string { return "knowledge_chunks" }

// GormRetriever embeds the query and searches knowledge_chunks by cosine
// distance.
type GormRetriever struct {
	db           *gorm.DB
	embedder     ai.Embedder
	embeddingDim int
}

// NewGormRetriever migrates the chunk table and pins the embedding column to
// the configured dimension.
func NewGormRetriever(db *gorm.DB, embedder ai.Embedder, embeddingDim int) (*GormRetriever, error) {
	if embeddingDim <= 0 {
		embeddingDim = defaultEmbeddingDim
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&ChunkModel{}); err != nil {
		return nil, fmt.Errorf("migrate knowledge chunks: %w", err)
	}
	if err := db.Exec(fmt.Sprintf(
		"ALTER TABLE knowledge_chunks ALTER COLUMN embedding TYPE vector(%d)", embeddingDim,
	)).Error; err != nil {
		return nil, fmt.Errorf("alter embedding type: %w", err)
	}
	return &GormRetriever{db: db, embedder: embedder, embeddingDim: embeddingDim}, nil
}

// AddChunk embeds and stores one passage.
func (r *GormRetriever) AddChunk(ctx context.Context, content string, metadata datatypes.JSON) error {
	embedding, err := r.embedder.EmbedText(ctx, content)
	if err != nil {
		return fmt.Errorf("embed chunk: %w", err)
	}
	if err := r.validateDim(embedding); err != nil {
		return err
	}
	vec := pgvector.NewVector(embedding)
	model := ChunkModel{
		ID:        util.NewID(),
		Content:   content,
		Metadata:  metadata,
		Embedding: &vec,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("store chunk: %w", err)
	}
	return nil
}

// Retrieve returns the contents of the passages closest to the query.
func (r *GormRetriever) Retrieve(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	embedding, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := r.validateDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var models []ChunkModel
	if err := r.db.WithContext(ctx).Model(&ChunkModel{}).
		Where("embedding IS NOT NULL").
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	passages := make([]string, 0, len(models))
	for _, m := range models {
		passages = append(passages, m.Content)
	}
	return passages, nil
}

func (r *GormRetriever) validateDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if r.embeddingDim > 0 && len(embedding) != r.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), r.embeddingDim)
	}
	return nil
}
