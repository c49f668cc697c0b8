package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentStorage implements the DocumentStorage interface for Badger
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DocumentStorage) SaveChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	for _, chunk := range chunks {
		if chunk.ChunkID == "" {
			return fmt.Errorf("chunk ID is required")
		}
		if err := s.db.Store().Upsert(chunk.ChunkID, chunk); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", chunk.ChunkID, err)
		}
	}
	return nil
}

func (s *DocumentStorage) GetChunksByJob(ctx context.Context, jobID string) ([]*models.DocumentChunk, error) {
	var chunks []models.DocumentChunk
	if err := s.db.Store().Find(&chunks, badgerhold.Where("JobID").Eq(jobID).SortBy("FileName", "Seq")); err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}

	result := make([]*models.DocumentChunk, len(chunks))
	for i := range chunks {
		result[i] = &chunks[i]
	}
	return result, nil
}

func (s *DocumentStorage) DeleteChunksByJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.DocumentChunk{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *DocumentStorage) CountChunks(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.DocumentChunk{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(count), nil
}
