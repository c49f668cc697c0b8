package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// UsageStorage implements the UsageStorage interface for Badger.
// Increments are serialized with a mutex so concurrent report runs
// cannot lose counts on read-modify-write.
type UsageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewUsageStorage creates a new UsageStorage instance
func NewUsageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UsageStorage {
	return &UsageStorage{
		db:     db,
		logger: logger,
	}
}

func usageKey(provider, date string) string {
	return provider + "|" + date
}

func (s *UsageStorage) IncrementUsage(ctx context.Context, provider, date string, tokens int) (*models.UsageRecord, error) {
	if provider == "" || date == "" {
		return nil, fmt.Errorf("provider and date are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(provider, date)

	var record models.UsageRecord
	err := s.db.Store().Get(key, &record)
	if err == badgerhold.ErrNotFound {
		record = models.UsageRecord{
			Key:      key,
			Provider: provider,
			Date:     date,
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}

	record.Calls++
	record.Tokens += tokens
	record.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(key, &record); err != nil {
		return nil, fmt.Errorf("failed to save usage record: %w", err)
	}
	return &record, nil
}

func (s *UsageStorage) GetUsage(ctx context.Context, provider, date string) (*models.UsageRecord, error) {
	var record models.UsageRecord
	err := s.db.Store().Get(usageKey(provider, date), &record)
	if err == badgerhold.ErrNotFound {
		// Absent record means zero usage for the day
		return &models.UsageRecord{
			Key:      usageKey(provider, date),
			Provider: provider,
			Date:     date,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return &record, nil
}
