package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique ingest job ID
func NewJobID() string {
	return uuid.New().String()
}

// NewAnalysisID generates a unique analysis ID with the "an-" prefix
// Format: an-<uuid>
func NewAnalysisID() string {
	return "an-" + uuid.New().String()
}

// NewChunkID generates a unique document chunk ID with the "chk_" prefix
// Format: chk_<uuid>
func NewChunkID() string {
	return "chk_" + uuid.New().String()
}
