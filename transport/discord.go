package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DapeSec/Discord-PG-Bot-sub001/config"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/tlsutil"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// ===== 📤 Discord REST 投递 =====

// maxMessageRunes Discord 单条消息的内容上限。
const maxMessageRunes = 2000

// DiscordSender 通过 Discord REST API 投递消息。
//
// 客户端维护一个令牌桶限速器，先于 Discord 的服务端限流把发送
// 速率压在配置值以内；真被 429 拦下时解析 retry_after 并返回
// 可重试错误，由上层 Dispatcher 决定是否补发。
// 超过单条上限的文本切片后逐条投递。
type DiscordSender struct {
	cfg     config.DiscordConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Transport = (*DiscordSender)(nil)

// createMessageRequest 对应 POST /channels/{id}/messages 的请求体。
type createMessageRequest struct {
	Content string `json:"content"`
}

// createMessageResponse 只取回执里关心的字段。
type createMessageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// rateLimitResponse 对应 429 的响应体。
type rateLimitResponse struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// NewDiscordSender 创建 Discord 投递客户端。
// BotToken 必填，其余字段缺省时回落到 DefaultDiscordConfig。
func NewDiscordSender(cfg config.DiscordConfig, logger *zap.Logger) (*DiscordSender, error) {
	if cfg.BotToken == "" {
		return nil, types.NewError(types.ErrConfigInvalid, "discord bot token is required")
	}
	def := config.DefaultDiscordConfig()
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = def.MessagesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DiscordSender{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(cfg.SendTimeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		logger:  logger.With(zap.String("component", "transport.discord")),
	}, nil
}

func (s *DiscordSender) Name() string { return "discord" }

// Send 投递一条消息到指定频道。超长文本按单条上限切片，
// 任意一片失败即返回，后续片不再尝试。
func (s *DiscordSender) Send(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return types.NewError(types.ErrInvalidRequest, "channel id is required")
	}
	if strings.TrimSpace(text) == "" {
		return types.NewError(types.ErrInvalidRequest, "refusing to send an empty message")
	}

	parts := splitMessage(text, maxMessageRunes)
	for i, part := range parts {
		if err := s.sendOne(ctx, channelID, part); err != nil {
			if len(parts) > 1 {
				s.logger.Warn("长消息部分投递失败",
					zap.String("channel_id", channelID),
					zap.Int("delivered_parts", i),
					zap.Int("total_parts", len(parts)))
			}
			return err
		}
	}
	return nil
}

// sendOne 投递单条消息。
func (s *DiscordSender) sendOne(ctx context.Context, channelID, text string) error {
	// 本地限速先行，避免无谓地撞服务端限流
	if err := s.limiter.Wait(ctx); err != nil {
		return types.NewError(types.ErrDispatchFailure, "rate limiter wait interrupted").
			WithCause(err)
	}

	body, err := json.Marshal(createMessageRequest{Content: text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages",
		strings.TrimRight(s.cfg.APIBaseURL, "/"), channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+s.cfg.BotToken)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrDispatchFailure, "discord request failed").
			WithCause(err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s.classifyFailure(resp)
	}

	var receipt createMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		// 消息已送达，回执解析失败只记日志
		s.logger.Debug("消息回执解析失败", zap.Error(err))
	}

	s.logger.Debug("消息已投递",
		zap.String("channel_id", channelID),
		zap.String("message_id", receipt.ID),
		zap.Int("length", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// classifyFailure 把非 2xx 响应映射成带重试语义的结构化错误。
// 429 与 5xx 可重试，其余 4xx（权限、未知频道等）重发也无济于事。
func (s *DiscordSender) classifyFailure(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusTooManyRequests {
		var rl rateLimitResponse
		retryAfter := time.Duration(0)
		if json.Unmarshal(raw, &rl) == nil && rl.RetryAfter > 0 {
			retryAfter = time.Duration(rl.RetryAfter * float64(time.Second))
		}
		s.logger.Warn("Discord 服务端限流",
			zap.Duration("retry_after", retryAfter),
			zap.Bool("global", rl.Global))
		return types.NewError(types.ErrRateLimited,
			fmt.Sprintf("discord rate limited, retry after %s", retryAfter)).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(true)
	}

	retryable := resp.StatusCode >= 500
	s.logger.Warn("Discord 投递被拒",
		zap.Int("status", resp.StatusCode),
		zap.Bool("retryable", retryable),
		zap.ByteString("body", raw))
	return types.NewError(types.ErrDispatchFailure,
		fmt.Sprintf("discord returned status %d", resp.StatusCode)).
		WithHTTPStatus(resp.StatusCode).
		WithRetryable(retryable)
}

// splitMessage 把文本切成不超过 limit 个 rune 的片段。
// 优先在换行处断开，其次空格，都没有就硬切。
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		window := runes[:limit]
		if i := lastIndexRune(window, '\n'); i > 0 {
			cut = i
		} else if i := lastIndexRune(window, ' '); i > 0 {
			cut = i
		}
		if part := strings.TrimSpace(string(runes[:cut])); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == ' ' || runes[0] == '\n') {
			runes = runes[1:]
		}
	}
	return parts
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
