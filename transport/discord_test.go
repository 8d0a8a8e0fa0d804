package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/config"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// ---------------------------------------------------------------------------
// 测试辅助：假 Discord REST 端点
// ---------------------------------------------------------------------------

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   createMessageRequest
}

// fakeDiscordAPI 记录收到的请求并按脚本回应。
type fakeDiscordAPI struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest

	status int    // 回应状态码，0 = 200
	body   string // 回应体
}

func newFakeDiscordAPI(t *testing.T) *fakeDiscordAPI {
	t.Helper()
	f := &fakeDiscordAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var msg createMessageRequest
		_ = json.Unmarshal(raw, &msg)

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Body:   msg,
		})
		status, body := f.status, f.body
		f.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		if body == "" {
			body = `{"id":"msg-1","channel_id":"chan-1"}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDiscordAPI) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *fakeDiscordAPI) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeDiscordAPI) senderConfig() config.DiscordConfig {
	return config.DiscordConfig{
		Enabled:           true,
		BotToken:          "test-token",
		APIBaseURL:        f.srv.URL,
		MessagesPerSecond: 100,
		Burst:             10,
		SendTimeout:       5 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// 测试：构造与默认值
// ---------------------------------------------------------------------------

func TestNewDiscordSender_Validation(t *testing.T) {
	// 缺 token 直接拒绝
	_, err := NewDiscordSender(config.DiscordConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigInvalid, types.GetErrorCode(err))

	// 零值字段回落到默认
	s, err := NewDiscordSender(config.DiscordConfig{BotToken: "tok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://discord.com/api/v10", s.cfg.APIBaseURL)
	assert.InDelta(t, 1.0, s.cfg.MessagesPerSecond, 1e-9)
	assert.Equal(t, 5, s.cfg.Burst)
	assert.Equal(t, 10*time.Second, s.cfg.SendTimeout)
	assert.Equal(t, "discord", s.Name())
}

// ---------------------------------------------------------------------------
// 测试：投递请求形状
// ---------------------------------------------------------------------------

func TestDiscordSender_SendSuccess(t *testing.T) {
	api := newFakeDiscordAPI(t)
	s, err := NewDiscordSender(api.senderConfig(), zap.NewNop())
	require.NoError(t, err)

	err = s.Send(context.Background(), "chan-1", "Holy crap, giant chicken!")
	require.NoError(t, err)

	reqs := api.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/channels/chan-1/messages", reqs[0].Path)
	assert.Equal(t, "Bot test-token", reqs[0].Auth)
	assert.Equal(t, "Holy crap, giant chicken!", reqs[0].Body.Content)
}

func TestDiscordSender_TrailingSlashBaseURL(t *testing.T) {
	api := newFakeDiscordAPI(t)
	cfg := api.senderConfig()
	cfg.APIBaseURL = api.srv.URL + "/"
	s, err := NewDiscordSender(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "chan-1", "hi"))
	reqs := api.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/channels/chan-1/messages", reqs[0].Path)
}

func TestDiscordSender_RejectsEmptyInput(t *testing.T) {
	api := newFakeDiscordAPI(t)
	s, err := NewDiscordSender(api.senderConfig(), zap.NewNop())
	require.NoError(t, err)

	err = s.Send(context.Background(), "", "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	err = s.Send(context.Background(), "chan-1", "   \n ")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	// 没打到线上
	assert.Empty(t, api.recorded())
}

// ---------------------------------------------------------------------------
// 测试：失败分类
// ---------------------------------------------------------------------------

func TestDiscordSender_RateLimited(t *testing.T) {
	api := newFakeDiscordAPI(t)
	api.respond(http.StatusTooManyRequests,
		`{"message":"You are being rate limited.","retry_after":1.5,"global":false}`)
	s, err := NewDiscordSender(api.senderConfig(), zap.NewNop())
	require.NoError(t, err)

	err = s.Send(context.Background(), "chan-1", "hello")
	require.Error(t, err)

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrRateLimited, typed.Code)
	assert.Equal(t, http.StatusTooManyRequests, typed.HTTPStatus)
	assert.True(t, typed.Retryable)
	assert.Contains(t, typed.Message, "1.5s")
}

func TestDiscordSender_ServerErrorIsRetryable(t *testing.T) {
	api := newFakeDiscordAPI(t)
	api.respond(http.StatusBadGateway, `{"message":"upstream"}`)
	s, err := NewDiscordSender(api.senderConfig(), zap.NewNop())
	require.NoError(t, err)

	err = s.Send(context.Background(), "chan-1", "hello")
	require.Error(t, err)

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrDispatchFailure, typed.Code)
	assert.Equal(t, http.StatusBadGateway, typed.HTTPStatus)
	assert.True(t, typed.Retryable)
}

func TestDiscordSender_ClientErrorIsFinal(t *testing.T) {
	api := newFakeDiscordAPI(t)
	api.respond(http.StatusForbidden, `{"message":"Missing Permissions","code":50013}`)
	s, err := NewDiscordSender(api.senderConfig(), zap.NewNop())
	require.NoError(t, err)

	err = s.Send(context.Background(), "chan-1", "hello")
	require.Error(t, err)

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrDispatchFailure, typed.Code)
	assert.Equal(t, http.StatusForbidden, typed.HTTPStatus)
	assert.False(t, typed.Retryable)
}

func TestDiscordSender_ConnectionRefusedIsRetryable(t *testing.T) {
	cfg := config.DiscordConfig{
		BotToken:          "tok",
		APIBaseURL:        "http://127.0.0.1:1",
		MessagesPerSecond: 100,
		Burst:             10,
		SendTimeout:       time.Second,
	}
	s, err := NewDiscordSender(cfg, zap.NewNop())
	require.NoError(t, err)

	err = s.Send(context.Background(), "chan-1", "hello")
	require.Error(t, err)

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrDispatchFailure, typed.Code)
	assert.True(t, typed.Retryable)
	assert.NotNil(t, typed.Cause)
}

// ---------------------------------------------------------------------------
// 测试：超长消息切片
// ---------------------------------------------------------------------------

func TestDiscordSender_SplitsLongMessage(t *testing.T) {
	api := newFakeDiscordAPI(t)
	s, err := NewDiscordSender(api.senderConfig(), zap.NewNop())
	require.NoError(t, err)

	// 2750 个 rune，必然超过单条上限
	long := strings.TrimSpace(strings.Repeat("0123456789 ", 250))
	require.NoError(t, s.Send(context.Background(), "chan-1", long))

	reqs := api.recorded()
	require.Greater(t, len(reqs), 1)
	for _, r := range reqs {
		assert.LessOrEqual(t, len([]rune(r.Body.Content)), 2000)
		assert.NotEmpty(t, strings.TrimSpace(r.Body.Content))
	}
	// 拼回去内容不丢
	var joined []string
	for _, r := range reqs {
		joined = append(joined, r.Body.Content)
	}
	assert.Equal(t, long, strings.Join(joined, " "))
}

func TestSplitMessage(t *testing.T) {
	// 不超限原样返回
	assert.Equal(t, []string{"hello"}, splitMessage("hello", 2000))

	// 优先在窗口内最后一个空格断开
	assert.Equal(t, []string{"aa bb", "cc dd"}, splitMessage("aa bb cc dd", 8))

	// 换行优先于空格
	assert.Equal(t, []string{"aa bb", "cc dd"}, splitMessage("aa bb\ncc dd", 8))

	// 无断点硬切
	assert.Equal(t, []string{"aaaa", "aaaa", "aa"}, splitMessage("aaaaaaaaaa", 4))
}

// ---------------------------------------------------------------------------
// 测试：本地限速
// ---------------------------------------------------------------------------

func TestDiscordSender_LocalLimiterBlocksBeforeWire(t *testing.T) {
	api := newFakeDiscordAPI(t)
	cfg := api.senderConfig()
	cfg.MessagesPerSecond = 0.001 // 补桶要等十几分钟
	cfg.Burst = 1
	s, err := NewDiscordSender(cfg, zap.NewNop())
	require.NoError(t, err)

	// 第一条吃掉突发额度
	require.NoError(t, s.Send(context.Background(), "chan-1", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Send(ctx, "chan-1", "second")
	require.Error(t, err)
	assert.Equal(t, types.ErrDispatchFailure, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "rate limiter")

	// 第二条没打到线上
	assert.Len(t, api.recorded(), 1)
}
