// Package tokenizer 估算提示词的 token 规模，供上下文裁剪做预算。
package tokenizer

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// modelEncodings 模型名到 tiktoken 编码的映射
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// Counter 按模型计数 token。编码在首次使用时惰性加载（可能触发下载）；
// 加载失败退回到粗略的字符数估算，绝不阻断生成链路。
type Counter struct {
	model    string
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

// NewCounter 为给定模型创建计数器，未收录的模型取最长前缀匹配，
// 再不行就用 cl100k_base。
func NewCounter(model string) *Counter {
	enc, ok := modelEncodings[model]
	if !ok {
		longest := 0
		for prefix, e := range modelEncodings {
			if strings.HasPrefix(model, prefix) && len(prefix) > longest {
				enc, ok = e, true
				longest = len(prefix)
			}
		}
	}
	if !ok {
		enc = defaultEncoding
	}
	return &Counter{model: model, encoding: enc}
}

func (c *Counter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = err
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Count 返回文本的 token 数。编码不可用时用估算值。
func (c *Counter) Count(text string) int {
	if err := c.init(); err != nil {
		return ApproxTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessage 返回一条聊天消息的 token 数，含消息结构开销。
func (c *Counter) CountMessage(role, content string) int {
	// 每条消息的包装开销: <|start|>role\n content<|end|>\n
	return 4 + c.Count(role) + c.Count(content)
}

// ApproxTokens 粗略估算：英文多数词 4 字符上下一个 token。
func ApproxTokens(text string) int {
	if text == "" {
		return 0
	}
	return utf8.RuneCountInString(text)/4 + 1
}
