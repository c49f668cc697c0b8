package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

// Service is a local bag-of-words retrieval index over document chunks.
// It backs both ad-hoc search and prompt context assembly for report
// generation, with no external dependencies.
type Service struct {
	documents interfaces.DocumentStorage
	config    *common.SearchConfig
	logger    arbor.ILogger
}

// NewService creates a new search service
func NewService(documents interfaces.DocumentStorage, config *common.SearchConfig, logger arbor.ILogger) interfaces.SearchService {
	return &Service{
		documents: documents,
		config:    config,
		logger:    logger,
	}
}

// IndexFile splits content into line-aligned chunks and stores them
func (s *Service) IndexFile(ctx context.Context, jobID, fileName, content string) (int, error) {
	if jobID == "" || fileName == "" {
		return 0, fmt.Errorf("job ID and file name are required")
	}

	chunkSize := s.config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1200
	}

	var chunks []*models.DocumentChunk
	var current strings.Builder
	seq := 0

	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text == "" {
			return
		}
		chunks = append(chunks, &models.DocumentChunk{
			ChunkID:   common.NewChunkID(),
			JobID:     jobID,
			FileName:  fileName,
			Seq:       seq,
			Text:      text,
			CreatedAt: time.Now().UTC(),
		})
		seq++
	}

	for _, line := range strings.Split(content, "\n") {
		if current.Len() > 0 && current.Len()+len(line)+1 > chunkSize {
			flush()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	if len(chunks) == 0 {
		return 0, nil
	}
	if err := s.documents.SaveChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to index %s: %w", fileName, err)
	}

	s.logger.Debug().Str("job_id", jobID).Str("file", fileName).Int("chunks", len(chunks)).Msg("Indexed file")
	return len(chunks), nil
}

// Search scores the job's chunks against the query terms and returns the
// highest scoring chunks with snippets
func (s *Service) Search(ctx context.Context, jobID, query string, limit int) ([]*models.SearchHit, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.config.DefaultResults
	}
	if limit <= 0 {
		limit = 8
	}

	chunks, err := s.documents.GetChunksByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var hits []*models.SearchHit
	for _, chunk := range chunks {
		score := scoreChunk(chunk.Text, terms)
		if score == 0 {
			continue
		}
		hits = append(hits, &models.SearchHit{
			ChunkID:  chunk.ChunkID,
			JobID:    chunk.JobID,
			FileName: chunk.FileName,
			Score:    score,
			Snippet:  snippet(chunk.Text, s.snippetLength()),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// AssembleContext concatenates the job's chunks into a prompt context
// bounded by the configured character budget. Tabular chunks come first
// since numeric rows carry most of the signal for financial review.
func (s *Service) AssembleContext(ctx context.Context, jobID string, topK int) (string, error) {
	chunks, err := s.documents.GetChunksByJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", nil
	}

	budget := s.config.ContextBudget
	if budget <= 0 {
		budget = 24000
	}
	if topK <= 0 {
		topK = 3
	}

	// Keep at most topK chunks per file, tabular content ahead of prose
	perFile := map[string]int{}
	var ordered []*models.DocumentChunk
	for _, chunk := range chunks {
		if isTabular(chunk.Text) {
			if perFile[chunk.FileName] < topK {
				ordered = append(ordered, chunk)
				perFile[chunk.FileName]++
			}
		}
	}
	for _, chunk := range chunks {
		if !isTabular(chunk.Text) {
			if perFile[chunk.FileName] < topK {
				ordered = append(ordered, chunk)
				perFile[chunk.FileName]++
			}
		}
	}

	var b strings.Builder
	for _, chunk := range ordered {
		section := fmt.Sprintf("### %s (part %d)\n%s\n\n", chunk.FileName, chunk.Seq+1, chunk.Text)
		if b.Len()+len(section) > budget {
			break
		}
		b.WriteString(section)
	}
	return strings.TrimSpace(b.String()), nil
}

// RemoveJob drops the job's chunks from the index
func (s *Service) RemoveJob(ctx context.Context, jobID string) error {
	return s.documents.DeleteChunksByJob(ctx, jobID)
}

func (s *Service) snippetLength() int {
	if s.config.SnippetLength > 0 {
		return s.config.SnippetLength
	}
	return 240
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func scoreChunk(text string, terms []string) float64 {
	words := tokenize(text)
	freq := make(map[string]int, len(words))
	for _, w := range words {
		freq[w]++
	}

	var score float64
	for _, term := range terms {
		score += float64(freq[term])
	}
	return score
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max]
}

// isTabular reports whether a chunk looks like CSV-style rows: comma
// separated lines carrying digits
func isTabular(text string) bool {
	lines := strings.Split(text, "\n")
	tabular := 0
	for _, line := range lines {
		if strings.Count(line, ",") >= 2 && strings.ContainsAny(line, "0123456789") {
			tabular++
		}
	}
	return tabular*2 >= len(lines) && tabular > 0
}
