package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/tlsutil"
)

// HTTPConfig 知识服务的接入配置。
type HTTPConfig struct {
	// BaseURL 知识服务根地址
	BaseURL string
	// APIKey 可选的 Bearer 密钥
	APIKey string
	// Endpoint 检索端点，默认 "/v1/search"
	Endpoint string
	// Timeout HTTP 超时，零值取 10s
	Timeout time.Duration
	// DefaultLimit 调用方传 0 时的片段条数
	DefaultLimit int
}

// HTTPRetriever 通过 REST 检索知识服务。
type HTTPRetriever struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

var _ Retriever = (*HTTPRetriever)(nil)

// NewHTTPRetriever 创建检索客户端。
func NewHTTPRetriever(cfg HTTPConfig, logger *zap.Logger) *HTTPRetriever {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/v1/search"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRetriever{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "retriever")),
	}
}

func (r *HTTPRetriever) Name() string { return "http" }

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []Snippet `json:"results"`
}

// Retrieve 查询知识服务。空查询直接返回空结果。
func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, limit int) ([]Snippet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}

	payload, err := json.Marshal(searchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	url := strings.TrimRight(r.cfg.BaseURL, "/") + r.cfg.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("knowledge service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge service returned status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(out.Results) > limit {
		out.Results = out.Results[:limit]
	}
	return out.Results, nil
}
