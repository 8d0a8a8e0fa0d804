package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCounter_EncodingSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model    string
		encoding string
	}{
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4o-2024-08-06", "o200k_base"}, // 最长前缀优先于 gpt-4
		{"gpt-4", "cl100k_base"},
		{"gpt-3.5-turbo-0125", "cl100k_base"},
		{"llama3", defaultEncoding},
		{"", defaultEncoding},
	}
	for _, tt := range tests {
		c := NewCounter(tt.model)
		assert.Equal(t, tt.encoding, c.encoding, "model=%s", tt.model)
	}
}

// TestCounter_CountNeverFails 编码加载失败（离线环境）退回估算，
// 计数永远可用。
func TestCounter_CountNeverFails(t *testing.T) {
	t.Parallel()

	c := NewCounter("gpt-4o-mini")
	assert.Equal(t, 0, c.Count(""))
	assert.Positive(t, c.Count("hello there, how is everyone doing tonight"))
	assert.GreaterOrEqual(t, c.CountMessage("user", "hi"), 5)
}

func TestApproxTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 2, ApproxTokens("abcd"))
	assert.Equal(t, 26, ApproxTokens(string(make([]rune, 100))))
}
