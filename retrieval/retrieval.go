// Package retrieval 为生成提示拉取背景知识片段。
// 检索是可选增强：任何失败都由调用方降级成无知识生成，不阻断回复。
package retrieval

import "context"

// Snippet 一条检索结果
type Snippet struct {
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// Retriever 知识检索接口。
type Retriever interface {
	// Retrieve 按查询返回至多 limit 条片段，相关度降序
	Retrieve(ctx context.Context, query string, limit int) ([]Snippet, error)
	// Name 返回检索器标识
	Name() string
}

// Noop 永远返回空结果，用于关闭知识检索的部署。
type Noop struct{}

var _ Retriever = (*Noop)(nil)

func (Noop) Retrieve(ctx context.Context, query string, limit int) ([]Snippet, error) {
	return nil, nil
}

func (Noop) Name() string { return "noop" }
