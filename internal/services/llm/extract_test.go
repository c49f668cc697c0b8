package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderOutputDirectJSON(t *testing.T) {
	result := ParseProviderOutput(`{"report":{"runId":"x","summary":"ok"},"analysis":{"sections":[]}}`)

	assert.Equal(t, "x", result.Report["runId"])
	require.NotNil(t, result.Analysis)
	assert.Contains(t, result.Analysis, "sections")
}

func TestParseProviderOutputEnvelopeWithFencedBlock(t *testing.T) {
	inner := "```json\n{\"report\":{\"runId\":\"x\"},\"analysis\":null}\n```"
	envelope, err := json.Marshal(map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{"content": inner},
		},
	})
	require.NoError(t, err)

	result := ParseProviderOutput(string(envelope))

	assert.Equal(t, "x", result.Report["runId"])
	assert.Nil(t, result.Analysis)
}

func TestParseProviderOutputNestedParts(t *testing.T) {
	envelope := `{"candidates":[{"content":{"parts":[{"text":"{\"report\":{\"runId\":\"p1\"}}"}]}}]}`

	result := ParseProviderOutput(envelope)

	assert.Equal(t, "p1", result.Report["runId"])
}

func TestParseProviderOutputArrayOfParts(t *testing.T) {
	envelope := `{"candidates":[{"content":[{"text":"{\"report\":{\"runId\":\"p2\"}}"}]}]}`

	result := ParseProviderOutput(envelope)

	assert.Equal(t, "p2", result.Report["runId"])
}

func TestParseProviderOutputBracesInsideStrings(t *testing.T) {
	text := `Some preamble {"report":{"runId":"x","summary":"uses {braces} inside"},"analysis":null} trailing`

	result := ParseProviderOutput(text)

	assert.Equal(t, "x", result.Report["runId"])
	assert.Equal(t, "uses {braces} inside", result.Report["summary"])
}

func TestParseProviderOutputDoublyEncoded(t *testing.T) {
	inner := `{"report":{"runId":"dd"},"analysis":null}`
	wrapped, err := json.Marshal(inner)
	require.NoError(t, err)

	result := ParseProviderOutput(string(wrapped))

	assert.Equal(t, "dd", result.Report["runId"])
}

func TestParseProviderOutputNoEnvelopeTreatsObjectAsReport(t *testing.T) {
	result := ParseProviderOutput(`{"runId":"bare","summary":"no envelope"}`)

	assert.Equal(t, "bare", result.Report["runId"])
	assert.Nil(t, result.Analysis)
}

func TestParseProviderOutputRepairsMalformedJSON(t *testing.T) {
	// Trailing comma plus single quotes, typical model sloppiness
	result := ParseProviderOutput(`{'report': {'runId': 'fix',},}`)

	assert.Equal(t, "fix", result.Report["runId"])
}

func TestParseProviderOutputRawFallback(t *testing.T) {
	raw := "nothing structured here at all"

	result := ParseProviderOutput(raw)

	assert.Empty(t, result.Report)
	assert.Nil(t, result.Analysis)
	assert.Equal(t, raw, result.Raw)
}

func TestExtractBalancedTracksEscapes(t *testing.T) {
	s := `x {"a":"quote \" then {","b":1} y`
	out := extractBalanced(s)
	assert.Equal(t, `{"a":"quote \" then {","b":1}`, out)
}
