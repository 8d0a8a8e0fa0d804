package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/metrics"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// ===== 🚚 投递策略 =====

// Dispatcher 在 Transport 之上落实投递策略：失败且可重试时
// 立即补发一次，最多一次，避免重复投递。
type Dispatcher struct {
	transport Transport
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewDispatcher 创建投递器。collector 可为 nil。
func NewDispatcher(transport Transport, collector *metrics.Collector, logger *zap.Logger) (*Dispatcher, error) {
	if transport == nil {
		return nil, types.NewError(types.ErrConfigInvalid, "dispatcher requires a transport")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		transport: transport,
		collector: collector,
		logger:    logger.With(zap.String("component", "dispatcher")),
	}, nil
}

// Dispatch 投递文本到频道。
func (d *Dispatcher) Dispatch(ctx context.Context, channelID, text string) error {
	err := d.transport.Send(ctx, channelID, text)
	if err == nil {
		return nil
	}

	if !types.IsRetryable(err) || ctx.Err() != nil {
		d.logger.Error("消息投递失败",
			zap.String("channel_id", channelID),
			zap.String("transport", d.transport.Name()),
			zap.Error(err))
		return err
	}

	d.logger.Warn("投递失败，补发一次",
		zap.String("channel_id", channelID),
		zap.Error(err))
	if rerr := d.transport.Send(ctx, channelID, text); rerr != nil {
		d.record("failure")
		d.logger.Error("补发仍失败，放弃本条消息",
			zap.String("channel_id", channelID),
			zap.Error(rerr))
		return rerr
	}
	d.record("success")
	d.logger.Info("补发成功", zap.String("channel_id", channelID))
	return nil
}

func (d *Dispatcher) record(status string) {
	if d.collector != nil {
		d.collector.RecordDispatchResend(status)
	}
}
