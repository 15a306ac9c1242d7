package reflection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"surrounded by prose", `Sure! {"a":1} Hope that helps.`, `{"a":1}`},
		{"fenced", "```json\n{\"a\": [1, 2]}\n```", `{"a": [1, 2]}`},
		{"array", `result: [{"a":1},{"b":2}] done`, `[{"a":1},{"b":2}]`},
		{"braces in strings", `{"text":"a } tricky { one","n":"\"}"}`, `{"text":"a } tricky { one","n":"\"}"}`},
		{"nested", `{"a":{"b":{"c":[1,{"d":2}]}}} {"second":true}`, `{"a":{"b":{"c":[1,{"d":2}]}}}`},
		{"skips invalid first block", `{not json} then {"ok":true}`, `{"ok":true}`},
		{"skips mismatched brackets", `[1, 2} and {"ok":1}`, `{"ok":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONBlock(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONBlock_None(t *testing.T) {
	for _, in := range []string{"", "no structure here", `{"unterminated": true`, "} backwards {"} {
		_, err := ExtractJSONBlock(in)
		assert.ErrorIs(t, err, ErrNoStructuredBlock, in)
	}
}
