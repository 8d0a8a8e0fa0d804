package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/DapeSec/Discord-PG-Bot-sub001/config"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// ---------------------------------------------------------------------------
// 测试辅助：脚本化 Transport
// ---------------------------------------------------------------------------

type sentMessage struct {
	ChannelID string
	Text      string
}

// scriptedTransport 按脚本逐次返回错误，脚本耗尽后重复最后一项。
type scriptedTransport struct {
	mu     sync.Mutex
	script []error
	sent   []sentMessage
}

var _ Transport = (*scriptedTransport)(nil)

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Send(_ context.Context, channelID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{ChannelID: channelID, Text: text})
	if len(s.script) == 0 {
		return nil
	}
	idx := len(s.sent) - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx]
}

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func retryableFailure(msg string) error {
	return types.NewError(types.ErrDispatchFailure, msg).WithRetryable(true)
}

// ---------------------------------------------------------------------------
// 测试：补发策略
// ---------------------------------------------------------------------------

func TestDispatcher_FirstTrySuccess(t *testing.T) {
	tr := &scriptedTransport{}
	d, err := NewDispatcher(tr, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), "chan-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, tr.calls())
}

func TestDispatcher_RetryableFailureResendsOnce(t *testing.T) {
	tr := &scriptedTransport{script: []error{retryableFailure("boom"), nil}}
	d, err := NewDispatcher(tr, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), "chan-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, tr.calls())

	// 两次发的都是同一条
	assert.Equal(t, tr.sent[0], tr.sent[1])
}

func TestDispatcher_ResendFailureGivesUp(t *testing.T) {
	tr := &scriptedTransport{script: []error{
		retryableFailure("first"),
		retryableFailure("second"),
	}}
	d, err := NewDispatcher(tr, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), "chan-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")

	// 最多补发一次，绝不第三次
	assert.Equal(t, 2, tr.calls())
}

func TestDispatcher_NonRetryableFailureSkipsResend(t *testing.T) {
	tr := &scriptedTransport{script: []error{
		types.NewError(types.ErrDispatchFailure, "missing permissions").WithRetryable(false),
	}}
	d, err := NewDispatcher(tr, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), "chan-1", "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrDispatchFailure, types.GetErrorCode(err))
	assert.Equal(t, 1, tr.calls())
}

func TestDispatcher_PlainErrorSkipsResend(t *testing.T) {
	// 未分类错误按不可重试处理
	tr := &scriptedTransport{script: []error{errors.New("marshal blew up")}}
	d, err := NewDispatcher(tr, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), "chan-1", "hello")
	require.Error(t, err)
	assert.Equal(t, 1, tr.calls())
}

func TestDispatcher_CanceledContextSkipsResend(t *testing.T) {
	tr := &scriptedTransport{script: []error{retryableFailure("conn reset"), nil}}
	d, err := NewDispatcher(tr, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = d.Dispatch(ctx, "chan-1", "hello")
	require.Error(t, err)
	assert.Equal(t, 1, tr.calls())
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(nil, nil, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigInvalid, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// 测试：传输层工厂与干跑
// ---------------------------------------------------------------------------

func TestNewTransport_DisabledFallsBackToLog(t *testing.T) {
	tr, err := NewTransport(config.DiscordConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "log", tr.Name())

	// 干跑不需要任何网络配置
	assert.NoError(t, tr.Send(context.Background(), "chan-1", "hello"))
}

func TestNewTransport_EnabledBuildsDiscordSender(t *testing.T) {
	tr, err := NewTransport(config.DiscordConfig{Enabled: true, BotToken: "tok"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "discord", tr.Name())

	// 启用却缺 token 时工厂报错
	_, err = NewTransport(config.DiscordConfig{Enabled: true}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigInvalid, types.GetErrorCode(err))
}
