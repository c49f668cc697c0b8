package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
)

// GenerationResult is the normalized output of a report generation call:
// the candidate report object, an optional analysis object, and the raw
// provider text for diagnostics.
type GenerationResult struct {
	Report   map[string]interface{}
	Analysis map[string]interface{}
	Raw      string
}

var fencedJSONRegex = regexp.MustCompile("(?is)```json\\s*(.*?)```")

// ExtractEnvelopeText locates the textual payload inside a provider
// envelope regardless of shape: candidates[0].content as a string, as an
// array of parts, nested content.parts, or a top-level output_text. Plain
// text passes through unchanged.
func ExtractEnvelopeText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return raw
	}

	if candidates, ok := envelope["candidates"].([]interface{}); ok && len(candidates) > 0 {
		if c, ok := candidates[0].(map[string]interface{}); ok {
			if text := textFromCandidate(c); text != "" {
				return text
			}
		}
	}
	if text, ok := envelope["output_text"].(string); ok && text != "" {
		return text
	}
	return raw
}

func textFromCandidate(c map[string]interface{}) string {
	switch content := c["content"].(type) {
	case string:
		return content
	case []interface{}:
		if joined := joinParts(content); joined != "" {
			return joined
		}
	case map[string]interface{}:
		// Nested content.parts shape
		if parts, ok := content["parts"].([]interface{}); ok {
			if joined := joinParts(parts); joined != "" {
				return joined
			}
		}
	}
	if text, ok := c["output_text"].(string); ok {
		return text
	}
	return ""
}

func joinParts(parts []interface{}) string {
	var out []string
	for _, part := range parts {
		switch p := part.(type) {
		case string:
			out = append(out, p)
		case map[string]interface{}:
			if text, ok := p["text"].(string); ok && text != "" {
				out = append(out, text)
			} else if text, ok := p["content"].(string); ok && text != "" {
				out = append(out, text)
			}
		}
	}
	return strings.Join(out, "\n")
}

// extractJSONCandidate pulls the most likely JSON object text out of model
// output: a fenced ```json block if present, otherwise the first balanced
// {...} object. Returns the input unchanged when neither is found.
func extractJSONCandidate(text string) string {
	if m := fencedJSONRegex.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if balanced := extractBalanced(text); balanced != "" {
		return balanced
	}
	return text
}

// extractBalanced scans for the first syntactically balanced JSON object,
// tracking string literals and escapes so braces inside string values do
// not corrupt the depth count
func extractBalanced(s string) string {
	start := strings.IndexByte(s, '{')
	for start != -1 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			ch := s[i]
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = !inString
			case '{':
				if !inString {
					depth++
				}
			case '}':
				if !inString {
					depth--
					if depth == 0 {
						return s[start : i+1]
					}
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			break
		}
		start = start + 1 + next
	}
	return ""
}

// unescapeOnce rewrites the common escape sequences one level down
func unescapeOnce(s string) string {
	replacer := strings.NewReplacer(
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
		`\"`, `"`,
		`\\`, `\`,
	)
	return replacer.Replace(s)
}

// ParseProviderOutput normalizes arbitrary provider output into a
// GenerationResult. Strategies are tried in order: envelope unwrap, fenced
// or balanced JSON extraction, direct parse, parse-then-if-string unwrap,
// iterative unescape, JSON repair, then raw text as an explicit last
// resort (an empty report, never fabricated fields).
func ParseProviderOutput(raw string) *GenerationResult {
	text := ExtractEnvelopeText(raw)
	candidate := extractJSONCandidate(text)

	if parsed, ok := parseObject(candidate); ok {
		return splitEnvelope(parsed, raw)
	}

	// Doubly encoded payloads: parse to a string, then parse that string,
	// unescaping between rounds
	unwrap := candidate
	for i := 0; i < 6; i++ {
		var maybe interface{}
		if err := json.Unmarshal([]byte(unwrap), &maybe); err == nil {
			if s, isString := maybe.(string); isString {
				unwrap = s
				continue
			}
			if obj, isObject := maybe.(map[string]interface{}); isObject {
				return splitEnvelope(obj, raw)
			}
			break
		}
		next := unescapeOnce(unwrap)
		if next == unwrap {
			break
		}
		unwrap = next
	}

	// Bounded unescape rounds over the original candidate
	unescaped := candidate
	for i := 0; i < 4; i++ {
		next := unescapeOnce(unescaped)
		if next == unescaped {
			break
		}
		unescaped = next
		if parsed, ok := parseObject(next); ok {
			return splitEnvelope(parsed, raw)
		}
	}

	// Balanced object buried in the raw text
	if balanced := extractBalanced(raw); balanced != "" && balanced != candidate {
		if parsed, ok := parseObject(balanced); ok {
			return splitEnvelope(parsed, raw)
		}
	}

	// Malformed but recoverable JSON (trailing commas, unquoted keys)
	if repaired, err := jsonrepair.RepairJSON(candidate); err == nil {
		if parsed, ok := parseObject(repaired); ok {
			return splitEnvelope(parsed, raw)
		}
	}

	// Last resort: surface the raw text without fabricating report fields
	return &GenerationResult{
		Report:   map[string]interface{}{},
		Analysis: nil,
		Raw:      raw,
	}
}

func parseObject(text string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// splitEnvelope unwraps a {report, analysis} envelope if present,
// otherwise treats the whole object as the report
func splitEnvelope(parsed map[string]interface{}, raw string) *GenerationResult {
	result := &GenerationResult{Raw: raw}

	if report, ok := parsed["report"].(map[string]interface{}); ok {
		result.Report = report
		if analysis, ok := parsed["analysis"].(map[string]interface{}); ok {
			result.Analysis = analysis
		}
		return result
	}

	result.Report = parsed
	return result
}
