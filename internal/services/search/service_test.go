package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/models"
)

// memoryDocuments is an in-memory DocumentStorage for tests
type memoryDocuments struct {
	chunks []*models.DocumentChunk
}

func (m *memoryDocuments) SaveChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memoryDocuments) GetChunksByJob(ctx context.Context, jobID string) ([]*models.DocumentChunk, error) {
	var out []*models.DocumentChunk
	for _, c := range m.chunks {
		if c.JobID == jobID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryDocuments) DeleteChunksByJob(ctx context.Context, jobID string) error {
	var keep []*models.DocumentChunk
	for _, c := range m.chunks {
		if c.JobID != jobID {
			keep = append(keep, c)
		}
	}
	m.chunks = keep
	return nil
}

func (m *memoryDocuments) CountChunks(ctx context.Context) (int, error) {
	return len(m.chunks), nil
}

func newTestService(docs *memoryDocuments) *Service {
	cfg := &common.SearchConfig{
		ChunkSize:      100,
		ContextBudget:  2000,
		SnippetLength:  60,
		DefaultResults: 8,
	}
	return NewService(docs, cfg, arbor.NewLogger()).(*Service)
}

func TestIndexFileChunksOnLines(t *testing.T) {
	docs := &memoryDocuments{}
	svc := newTestService(docs)

	content := strings.Repeat("row,100,USD\n", 30)
	count, err := svc.IndexFile(context.Background(), "job-1", "tx.csv", content)
	require.NoError(t, err)
	assert.Greater(t, count, 1)

	for _, c := range docs.chunks {
		assert.LessOrEqual(t, len(c.Text), 112)
		assert.Equal(t, "job-1", c.JobID)
	}
}

func TestSearchRanksByTermFrequency(t *testing.T) {
	docs := &memoryDocuments{}
	svc := newTestService(docs)
	ctx := context.Background()

	_, err := svc.IndexFile(ctx, "job-1", "a.txt", "rent payment rent arrears rent")
	require.NoError(t, err)
	_, err = svc.IndexFile(ctx, "job-1", "b.txt", "one mention of rent only")
	require.NoError(t, err)
	_, err = svc.IndexFile(ctx, "job-1", "c.txt", "nothing relevant here")
	require.NoError(t, err)

	hits, err := svc.Search(ctx, "job-1", "rent", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.txt", hits[0].FileName)
	assert.Equal(t, "b.txt", hits[1].FileName)
}

func TestSearchScopedToJob(t *testing.T) {
	docs := &memoryDocuments{}
	svc := newTestService(docs)
	ctx := context.Background()

	_, err := svc.IndexFile(ctx, "job-1", "a.txt", "payroll data")
	require.NoError(t, err)
	_, err = svc.IndexFile(ctx, "job-2", "b.txt", "payroll data")
	require.NoError(t, err)

	hits, err := svc.Search(ctx, "job-1", "payroll", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.txt", hits[0].FileName)
}

func TestAssembleContextPrefersTabularChunks(t *testing.T) {
	docs := &memoryDocuments{}
	svc := newTestService(docs)
	ctx := context.Background()

	_, err := svc.IndexFile(ctx, "job-1", "notes.txt", "long prose about the business")
	require.NoError(t, err)
	_, err = svc.IndexFile(ctx, "job-1", "tx.csv", "category,amount,currency\nsales,100,USD\n")
	require.NoError(t, err)

	out, err := svc.AssembleContext(ctx, "job-1", 3)
	require.NoError(t, err)

	csvPos := strings.Index(out, "tx.csv")
	txtPos := strings.Index(out, "notes.txt")
	require.NotEqual(t, -1, csvPos)
	require.NotEqual(t, -1, txtPos)
	assert.Less(t, csvPos, txtPos)
}

func TestAssembleContextHonorsBudget(t *testing.T) {
	docs := &memoryDocuments{}
	svc := newTestService(docs)
	ctx := context.Background()

	_, err := svc.IndexFile(ctx, "job-1", "big.csv", strings.Repeat("a,1,USD\n", 2000))
	require.NoError(t, err)

	out, err := svc.AssembleContext(ctx, "job-1", 100)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 2000)
}

func TestRemoveJob(t *testing.T) {
	docs := &memoryDocuments{}
	svc := newTestService(docs)
	ctx := context.Background()

	_, err := svc.IndexFile(ctx, "job-1", "a.txt", "content here")
	require.NoError(t, err)
	require.NoError(t, svc.RemoveJob(ctx, "job-1"))

	hits, err := svc.Search(ctx, "job-1", "content", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
