// Package transport 负责把通过评审的回复投递到聊天频道。
//
// DiscordSender 走 REST 发消息并用令牌桶限速；Presence 维护网关
// 连接让机器人显示在线；Dispatcher 在两者之上落实"至多补发一次"
// 的投递策略。未启用真实投递的部署用 LogTransport 干跑。
package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/config"
)

// Transport 把一条文本投进频道。
type Transport interface {
	// Send 投递文本。错误可通过 types.IsRetryable 判断是否值得补发。
	Send(ctx context.Context, channelID, text string) error
	// Name 返回传输层标识
	Name() string
}

// NewTransport 按配置创建传输层：未启用真实投递时返回干跑实现。
func NewTransport(cfg config.DiscordConfig, logger *zap.Logger) (Transport, error) {
	if !cfg.Enabled {
		return NewLogTransport(logger), nil
	}
	return NewDiscordSender(cfg, logger)
}

// LogTransport 只记日志不真发，用于本地开发和投递未启用的部署。
type LogTransport struct {
	logger *zap.Logger
}

var _ Transport = (*LogTransport)(nil)

// NewLogTransport creates a dry-run transport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger.With(zap.String("component", "transport.log"))}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Send(ctx context.Context, channelID, text string) error {
	t.logger.Info("dry-run dispatch",
		zap.String("channel_id", channelID),
		zap.Int("length", len(text)),
		zap.String("text", text))
	return nil
}
