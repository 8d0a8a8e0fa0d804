package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/config"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/tlsutil"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// ===== 🌐 Discord 网关在线状态 =====

// GatewayState 表示网关连接状态。
type GatewayState string

const (
	GatewayStateDisconnected GatewayState = "disconnected"
	GatewayStateConnecting   GatewayState = "connecting"
	GatewayStateReady        GatewayState = "ready"
	GatewayStateReconnecting GatewayState = "reconnecting"
	GatewayStateClosed       GatewayState = "closed"
)

// 网关操作码（Discord Gateway v10）
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

const (
	gatewayDialTimeout  = 30 * time.Second
	gatewayWriteTimeout = 10 * time.Second
	gatewayReadLimit    = 1 << 20 // READY 携带完整 guild 数据，默认 32KB 不够
)

// gatewayEvent 网关入站消息帧。
type gatewayEvent struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

// gatewayCommand 网关出站消息帧。
type gatewayCommand struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloData struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"` // 毫秒
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
	Presence   *presenceData      `json:"presence,omitempty"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type presenceData struct {
	Since      int64      `json:"since"`
	Activities []activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

type activity struct {
	Name string `json:"name"`
	Type int    `json:"type"` // 3 = Watching
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// PresenceConfig 配置网关在线状态客户端。
type PresenceConfig struct {
	GatewayURL        string        // 网关地址（默认取 DefaultDiscordConfig）
	BotToken          string        // Bot Token，必填
	Intents           int           // 订阅意图，仅维持在线时为 0
	StatusText        string        // 展示的活动文案，空则不设活动
	ReconnectDelay    time.Duration // 重连退避基值（默认 1s）
	MaxBackoff        time.Duration // 退避上限（默认 60s）
	BackoffMultiplier float64       // 退避倍率（默认 2.0）
}

// Presence 维持一条 Discord 网关会话，让机器人在成员列表里显示在线。
// 不订阅任何事件流，消息收发全部走 REST。
type Presence struct {
	cfg    PresenceConfig
	logger *zap.Logger

	mu            sync.Mutex
	state         GatewayState
	sessionID     string
	resumeURL     string
	seq           int64
	hasSeq        bool
	acked         bool
	onStateChange func(GatewayState)
}

// NewPresence 创建网关客户端。零值字段回落到默认配置。
func NewPresence(cfg PresenceConfig, logger *zap.Logger) (*Presence, error) {
	if cfg.BotToken == "" {
		return nil, types.NewError(types.ErrConfigInvalid, "presence requires a bot token")
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = config.DefaultDiscordConfig().GatewayURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presence{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "transport.gateway")),
		state:  GatewayStateDisconnected,
	}, nil
}

// OnStateChange 注册连接状态变化回调。
func (p *Presence) OnStateChange(fn func(GatewayState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStateChange = fn
}

// State 返回当前连接状态。
func (p *Presence) State() GatewayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// setState 更新状态并触发回调。调用方不得持有 p.mu。
func (p *Presence) setState(s GatewayState) {
	p.mu.Lock()
	p.state = s
	fn := p.onStateChange
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Run 维持网关会话直到 ctx 结束，断线后按指数退避重连。
func (p *Presence) Run(ctx context.Context) error {
	delay := p.cfg.ReconnectDelay
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			p.setState(GatewayStateClosed)
			return nil
		}

		// 会话进到过 READY 就把退避归零重新数
		if p.State() == GatewayStateReady {
			delay = p.cfg.ReconnectDelay
		}
		p.setState(GatewayStateReconnecting)
		p.logger.Warn("网关会话断开，准备重连",
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			p.setState(GatewayStateClosed)
			return nil
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.cfg.BackoffMultiplier)
		if delay > p.cfg.MaxBackoff {
			delay = p.cfg.MaxBackoff
		}
	}
}

// session 走完一次会话生命周期：HELLO → IDENTIFY → 心跳 + 事件循环。
// 返回时底层连接已关闭。
func (p *Presence) session(ctx context.Context) error {
	p.setState(GatewayStateConnecting)

	dctx, cancel := context.WithTimeout(ctx, gatewayDialTimeout)
	defer cancel()
	// 握手复用加固 TLS 配置；超时交给 ctx，客户端本身不设 Timeout
	conn, _, err := websocket.Dial(dctx, p.cfg.GatewayURL, &websocket.DialOptions{
		HTTPClient: tlsutil.SecureHTTPClient(0),
	})
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}
	conn.SetReadLimit(gatewayReadLimit)
	defer conn.Close(websocket.StatusNormalClosure, "session over")

	hello, err := p.readEvent(ctx, conn)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected HELLO, got op %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}
	interval := time.Duration(hd.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		return fmt.Errorf("gateway sent invalid heartbeat interval %.0fms", hd.HeartbeatInterval)
	}

	if err := p.identify(ctx, conn); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeatLoop(hbCtx, conn, interval)

	return p.eventLoop(ctx, conn)
}

// eventLoop 消费网关事件直到连接断开。
func (p *Presence) eventLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		ev, err := p.readEvent(ctx, conn)
		if err != nil {
			return fmt.Errorf("gateway read: %w", err)
		}

		switch ev.Op {
		case opDispatch:
			p.mu.Lock()
			if ev.S != nil {
				p.seq = *ev.S
				p.hasSeq = true
			}
			p.mu.Unlock()
			if ev.T == "READY" {
				p.handleReady(ev.D)
			}

		case opHeartbeat:
			// 服务端主动要求立即心跳
			if err := p.sendHeartbeat(ctx, conn); err != nil {
				return fmt.Errorf("requested heartbeat: %w", err)
			}

		case opHeartbeatACK:
			p.mu.Lock()
			p.acked = true
			p.mu.Unlock()

		case opReconnect:
			// TODO: 用 READY 里的 session_id 和 resume_gateway_url 走 RESUME(op 6)，
			// 避免每次断开都重新 IDENTIFY
			return fmt.Errorf("gateway requested reconnect")

		case opInvalidSession:
			return fmt.Errorf("gateway invalidated the session")
		}
	}
}

func (p *Presence) handleReady(raw json.RawMessage) {
	var rd readyData
	if err := json.Unmarshal(raw, &rd); err != nil {
		p.logger.Warn("READY 解析失败", zap.Error(err))
		return
	}
	p.mu.Lock()
	p.sessionID = rd.SessionID
	p.resumeURL = rd.ResumeGatewayURL
	p.mu.Unlock()

	p.setState(GatewayStateReady)
	p.logger.Info("网关会话就绪", zap.String("session_id", rd.SessionID))
}

// heartbeatLoop 按 HELLO 给定的间隔发送心跳。一个完整间隔内没有
// 收到 ACK 即判定连接僵死，主动关闭连接让事件循环退出。
func (p *Presence) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	// 首跳按协议在间隔内随机抖动
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rand.Int64N(int64(interval)))):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		p.acked = false
		p.mu.Unlock()

		if err := p.sendHeartbeat(ctx, conn); err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("心跳发送失败", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "heartbeat send failed")
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		acked := p.acked
		p.mu.Unlock()
		if !acked {
			p.logger.Warn("心跳未获 ACK，判定连接僵死")
			conn.Close(websocket.StatusGoingAway, "zombied connection")
			return
		}
	}
}

func (p *Presence) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	p.mu.Lock()
	var seq any
	if p.hasSeq {
		seq = p.seq
	}
	p.mu.Unlock()
	return p.writeCommand(ctx, conn, gatewayCommand{Op: opHeartbeat, D: seq})
}

func (p *Presence) identify(ctx context.Context, conn *websocket.Conn) error {
	data := identifyData{
		Token:   p.cfg.BotToken,
		Intents: p.cfg.Intents,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "pgbot",
			Device:  "pgbot",
		},
	}
	presence := presenceData{Status: "online"}
	if p.cfg.StatusText != "" {
		presence.Activities = []activity{{Name: p.cfg.StatusText, Type: 3}}
	}
	data.Presence = &presence

	return p.writeCommand(ctx, conn, gatewayCommand{Op: opIdentify, D: data})
}

func (p *Presence) writeCommand(ctx context.Context, conn *websocket.Conn, cmd gatewayCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal gateway command: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, gatewayWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, body)
}

func (p *Presence) readEvent(ctx context.Context, conn *websocket.Conn) (*gatewayEvent, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var ev gatewayEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode gateway frame: %w", err)
	}
	return &ev, nil
}
