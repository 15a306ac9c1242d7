package reflection

import (
	"encoding/json"
	"errors"
)

// ErrNoStructuredBlock is returned when text holds no well-formed JSON
// object or array.
var ErrNoStructuredBlock = errors.New("reflection: no structured block in output")

// ExtractJSONBlock returns the first balanced {...} or [...] block in text
// that is valid JSON. Brackets inside string literals are ignored.
func ExtractJSONBlock(text string) (string, error) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		end := matchBlock(text, start)
		if end < 0 {
			continue
		}
		block := text[start : end+1]
		if json.Valid([]byte(block)) {
			return block, nil
		}
	}
	return "", ErrNoStructuredBlock
}

// matchBlock returns the index of the bracket closing the one at start, or
// -1 if the block is unbalanced or mismatched.
func matchBlock(text string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}
