package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidFilter = errors.New("invalid filter")
)

// IngestStore is the write side used by the ingestion pipeline and backfill.
type IngestStore interface {
	// MessageDigests returns the stored digest per message UUID for a file.
	// An unknown conversation yields an empty map.
	MessageDigests(ctx context.Context, sessionID, filePath string) (map[string]MessageDigest, error)

	// IngestConversation upserts a conversation, its messages and its events
	// in one transaction.
	IngestConversation(ctx context.Context, batch *IngestBatch) (*IngestOutcome, error)

	// MessagesMissingEmbeddings lists messages without a vector from model,
	// ordered by id and starting after the given id (uuid.Nil for the start).
	MessagesMissingEmbeddings(ctx context.Context, model string, minChars int, after uuid.UUID, limit int) ([]PendingEmbedding, error)

	// SetEmbeddings writes vectors whose ContentHash still matches the row.
	// Returns the number of rows updated.
	SetEmbeddings(ctx context.Context, model string, dims int, updates []EmbeddingUpdate) (int, error)

	DeleteConversation(ctx context.Context, id uuid.UUID) error
}

// SearchStore is the read side used by the search engine.
type SearchStore interface {
	SearchSimilar(ctx context.Context, vec []float32, f SearchFilter) ([]SearchHit, error)
	SearchKeyword(ctx context.Context, query string, f SearchFilter) ([]SearchHit, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	// MessageWindow returns messages whose seq lies within window of the
	// anchor message, ordered by seq.
	MessageWindow(ctx context.Context, conversationID uuid.UUID, anchor string, window int) ([]Message, error)
	ListEvents(ctx context.Context, conversationID uuid.UUID) ([]TechnicalEvent, error)
	ListProjects(ctx context.Context) ([]ProjectInfo, error)
	EmbeddingModels(ctx context.Context) ([]EmbeddingModelInfo, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Store is a complete backend.
type Store interface {
	IngestStore
	SearchStore
	Ping(ctx context.Context) error
	Close() error
}
