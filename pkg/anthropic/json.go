package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// DecodeJSON finds the first JSON object or array in a model reply and
// decodes it into out. Replies wrapped in markdown fences are accepted.
func DecodeJSON(text string, out any) error {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return eris.New("anthropic: no JSON in reply")
	}
	open := text[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	end := strings.LastIndexByte(text, closeCh)
	if end <= start {
		return eris.New("anthropic: unterminated JSON in reply")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return eris.Wrap(err, "anthropic: decode reply JSON")
	}
	return nil
}
