package variation

import (
	"fmt"
	"strings"

	"github.com/buger/jsonparser"

	"voxgen/corpus"
)

const systemPrompt = `You rewrite voice-assistant commands. Given a command, produce natural-sounding paraphrases a real user might say. Every paraphrase must keep the exact same intent and stay in the same language. Respond with a JSON array of strings and nothing else.`

func userPrompt(phrase corpus.SeedPhrase, count int) string {
	return fmt.Sprintf(
		"Produce %d distinct paraphrases of the %s command %q. The intent is %s. JSON array only.",
		count, phrase.Language, phrase.Text, phrase.Intent,
	)
}

// parseCandidates extracts the string array from the model output.
// Models mostly obey the JSON instruction; when one wraps the array in
// prose or ignores it entirely we fall back to line splitting rather
// than wasting the call.
func parseCandidates(content string) []string {
	if arr := extractArray(content); arr != nil {
		var out []string
		_, err := jsonparser.ArrayEach(arr, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
			if dataType == jsonparser.String {
				if s, err := jsonparser.ParseString(value); err == nil {
					out = append(out, s)
				}
			}
		})
		if err == nil && len(out) > 0 {
			return out
		}
	}

	return splitLines(content)
}

// extractArray returns the outermost [...] span, or nil.
func extractArray(content string) []byte {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil
	}
	return []byte(content[start : end+1])
}

// splitLines treats each non-empty line as a candidate, shedding
// bullet markers and "1." style numbering.
func splitLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = strings.TrimSpace(line[i+1:])
		}
		line = strings.Trim(line, `"`)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
