package models

import "time"

// DocumentChunk is one indexed slice of an uploaded file, used by the
// local retrieval service for prompt assembly and search.
type DocumentChunk struct {
	ChunkID   string    `json:"chunkId" badgerhold:"key"`
	JobID     string    `json:"jobId"`
	FileName  string    `json:"fileName"`
	Seq       int       `json:"seq"` // Position of the chunk within its file
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// SearchHit is a scored retrieval result.
type SearchHit struct {
	ChunkID  string  `json:"chunkId"`
	JobID    string  `json:"jobId"`
	FileName string  `json:"fileName"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
}

// UsageRecord tracks provider call counts for one provider on one calendar
// day. The key is "<provider>|<yyyy-mm-dd>" so stale days age out naturally.
type UsageRecord struct {
	Key       string    `json:"key" badgerhold:"key"`
	Provider  string    `json:"provider"`
	Date      string    `json:"date"` // yyyy-mm-dd
	Calls     int       `json:"calls"`
	Tokens    int       `json:"tokens"`
	UpdatedAt time.Time `json:"updatedAt"`
}
