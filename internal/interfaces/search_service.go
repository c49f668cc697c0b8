package interfaces

import (
	"context"

	"github.com/ternarybob/scrutor/internal/models"
)

// SearchService provides retrieval over indexed document chunks.
// The default implementation is a local bag-of-words index, kept behind
// this interface so a heavier backend can be swapped in later.
type SearchService interface {
	// IndexFile splits content into chunks and stores them for the job
	IndexFile(ctx context.Context, jobID, fileName, content string) (int, error)

	// Search returns the top scored chunks for a query within a job
	Search(ctx context.Context, jobID, query string, limit int) ([]*models.SearchHit, error)

	// AssembleContext builds prompt context for a job, bounded by the
	// configured character budget and preferring tabular lines
	AssembleContext(ctx context.Context, jobID string, topK int) (string, error)

	// RemoveJob drops all chunks indexed for a job
	RemoveJob(ctx context.Context, jobID string) error
}
