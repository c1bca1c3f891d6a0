package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kbeye/console/internal/config"
	"github.com/kbeye/console/internal/model"
)

// dialTimeout 单次连接尝试的超时
const dialTimeout = 10 * time.Second

// Client 推送更新客户端
//
// 维护一条到后端的逻辑推送连接：自动重连、心跳、
// 以及经宽限期去抖的稳定连接状态。进程内一个实例，
// 所有订阅方共享同一条连接和同一个稳定状态值。
type Client struct {
	logger config.Logger
	dialer Dialer

	url               string
	enabled           bool
	reconnectCount    int
	reconnectDelay    time.Duration
	heartbeatInterval time.Duration
	gracePeriod       time.Duration

	mu            sync.Mutex
	state         model.ConnState
	stable        model.StableStatus
	transport     Transport
	connGen       uint64 // 连接代数，递增后旧连接链上的读循环和定时器全部失效
	manualClose   bool
	attempts      int
	gracePending  bool
	heartbeatStop chan struct{}

	// 底层连接不支持并发写，心跳与Send共用写锁
	writeMu sync.Mutex

	graceTimer     resettableTimer
	reconnectTimer resettableTimer

	subMu sync.RWMutex
	subs  map[EventType][]*Subscription

	// 串行派发，保证订阅方按到达顺序收到事件
	dispatchMu sync.Mutex
}

// NewClient 创建推送客户端
//
// 初始稳定状态为断开，原始状态为idle。
func NewClient(cfg *config.Config, logger config.Logger, dialer Dialer) *Client {
	return &Client{
		logger:            logger,
		dialer:            dialer,
		url:               strings.TrimRight(cfg.Realtime.BaseURL, "/") + cfg.Realtime.Endpoint,
		enabled:           cfg.Realtime.Enabled,
		reconnectCount:    cfg.Realtime.ReconnectCount,
		reconnectDelay:    cfg.Realtime.ReconnectDelay,
		heartbeatInterval: cfg.Realtime.HeartbeatInterval,
		gracePeriod:       cfg.Realtime.GracePeriod,
		state:             model.ConnIdle,
		stable:            model.StableDisconnected,
		subs:              make(map[EventType][]*Subscription),
	}
}

// Connect 建立推送连接
//
// 配置禁用实时功能时直接成功返回。已有连接会先被丢弃。
// 返回的错误只反映首次拨号的结果：自动重试期间的失败
// 通过error事件上报，不会再回到本次调用方。
func (c *Client) Connect(ctx context.Context) error {
	if !c.enabled {
		c.logger.Info("实时功能已禁用，跳过连接")
		return nil
	}

	c.mu.Lock()
	// 丢弃旧连接及其定时器
	c.discardLocked()
	c.manualClose = false
	c.attempts = 0
	c.state = model.ConnConnecting
	gen := c.connGen
	c.mu.Unlock()

	return c.dial(ctx, gen, true)
}

// Disconnect 手动断开
//
// 抑制自动重连，停止心跳和宽限期定时器，稳定状态立即
// 置为断开，并以正常关闭码关闭底层连接。
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	c.stopHeartbeatLocked()
	c.graceTimer.Stop()
	c.gracePending = false
	c.reconnectTimer.Stop()
	c.connGen++

	var events []Event
	if c.transport != nil {
		c.state = model.ConnClosing
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		_ = c.transport.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		_ = c.transport.Close()
		c.transport = nil
		events = append(events, CloseEvent{Code: websocket.CloseNormalClosure, Reason: "手动断开"})
	}
	c.state = model.ConnDisconnected
	if c.stable != model.StableDisconnected {
		c.stable = model.StableDisconnected
		events = append(events, StableStatusEvent{Status: model.StableDisconnected})
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.dispatch(ev)
	}
}

// Send 发送出站消息
//
// 字符串原样发送，其余负载序列化为JSON文本。
// 连接未打开时返回错误且不做任何传输操作，绝不panic。
func (c *Client) Send(payload interface{}) error {
	var data []byte
	switch p := payload.(type) {
	case string:
		data = []byte(p)
	case []byte:
		data = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化消息失败: %w", err)
		}
		data = b
	}

	c.mu.Lock()
	tr := c.transport
	open := c.state == model.ConnOpen
	c.mu.Unlock()

	if !open || tr == nil {
		c.logger.Warn("连接未打开，消息未发送")
		return fmt.Errorf("连接未打开，无法发送消息")
	}

	c.writeMu.Lock()
	err := tr.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.dispatch(ErrorEvent{Err: err})
		return fmt.Errorf("发送消息失败: %w", err)
	}
	return nil
}

// Subscribe 订阅指定类型的事件
//
// 未知事件类型记录警告并返回nil句柄，不会panic。
func (c *Client) Subscribe(eventType EventType, handler Handler) *Subscription {
	if !knownEventTypes[eventType] {
		c.logger.Warn("未知的事件类型，忽略订阅", zap.String("event", string(eventType)))
		return nil
	}

	sub := &Subscription{eventType: eventType, handler: handler}
	c.subMu.Lock()
	c.subs[eventType] = append(c.subs[eventType], sub)
	c.subMu.Unlock()
	return sub
}

// Unsubscribe 退订
func (c *Client) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	list := c.subs[sub.eventType]
	for i, s := range list {
		if s == sub {
			c.subs[sub.eventType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// IsConnected 原始传输状态是否为打开
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == model.ConnOpen
}

// ConnectionStatus 返回原始传输状态
func (c *Client) ConnectionStatus() model.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StableConnectionStatus 返回去抖后的稳定状态
func (c *Client) StableConnectionStatus() model.StableStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stable
}

// discardLocked 丢弃当前连接及其关联的定时器和心跳
func (c *Client) discardLocked() {
	c.stopHeartbeatLocked()
	c.reconnectTimer.Stop()
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	c.connGen++
}

// dial 执行一次连接尝试
//
// first为true时失败会返回错误（首次连接的调用方语义），
// 自动重试路径的失败只上报error事件。
func (c *Client) dial(ctx context.Context, gen uint64, first bool) error {
	tr, err := c.dialer.Dial(ctx, c.url)

	c.mu.Lock()
	if gen != c.connGen {
		// 本次尝试已被新的Connect或Disconnect取代
		c.mu.Unlock()
		if err == nil {
			_ = tr.Close()
		}
		return nil
	}

	if err != nil {
		c.state = model.ConnDisconnected
		c.armGraceLocked()
		c.scheduleReconnectLocked()
		c.mu.Unlock()

		c.dispatch(ErrorEvent{Err: err})
		if first {
			return err
		}
		return nil
	}

	// 安装新连接
	c.reconnectTimer.Stop()
	c.connGen++
	newGen := c.connGen
	c.transport = tr
	c.state = model.ConnOpen
	c.attempts = 0
	c.graceTimer.Stop()
	c.gracePending = false

	events := []Event{OpenEvent{}}
	if c.stable != model.StableConnected {
		// 连接成功立即对外可见，不经过宽限期
		c.stable = model.StableConnected
		events = append(events, StableStatusEvent{Status: model.StableConnected})
	}
	c.startHeartbeatLocked()
	c.mu.Unlock()

	go c.readLoop(newGen, tr)
	for _, ev := range events {
		c.dispatch(ev)
	}
	return nil
}

// readLoop 读取入站消息直到传输关闭
func (c *Client) readLoop(gen uint64, tr Transport) {
	for {
		_, raw, err := tr.ReadMessage()
		if err != nil {
			c.onTransportClosed(gen, err)
			return
		}
		c.handleMessage(gen, raw)
	}
}

// onTransportClosed 处理传输意外关闭
func (c *Client) onTransportClosed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.connGen {
		// 旧连接的收尾，当前会话不受影响
		c.mu.Unlock()
		return
	}

	c.stopHeartbeatLocked()
	c.transport = nil
	c.state = model.ConnDisconnected

	code, reason := closeDetails(err)
	var events []Event
	if !isNormalClose(err) {
		events = append(events, ErrorEvent{Err: err})
	}
	events = append(events, CloseEvent{Code: code, Reason: reason})

	if !c.manualClose {
		c.armGraceLocked()
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.dispatch(ev)
	}
}

// armGraceLocked 启动宽限期计时
//
// 稳定状态已是断开或已有宽限期在计时时不重新计时，
// 保证一次断开事件最多触发一次稳定状态翻转。
func (c *Client) armGraceLocked() {
	if c.stable != model.StableConnected || c.gracePending {
		return
	}
	c.gracePending = true
	c.graceTimer.Arm(c.gracePeriod, c.onGraceElapsed)
}

// onGraceElapsed 宽限期到期
func (c *Client) onGraceElapsed() {
	c.mu.Lock()
	c.gracePending = false
	if c.state == model.ConnOpen {
		// 宽限期内已重新连接，不翻转
		c.mu.Unlock()
		return
	}

	var events []Event
	if c.stable != model.StableDisconnected {
		c.stable = model.StableDisconnected
		events = append(events, StableStatusEvent{Status: model.StableDisconnected})
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.dispatch(ev)
	}
}

// scheduleReconnectLocked 计划下一次自动重连
//
// 超过配置上限后停止自动重连，连接保持关闭，
// 直到下一次显式Connect。
func (c *Client) scheduleReconnectLocked() {
	if c.manualClose {
		return
	}
	if c.attempts >= c.reconnectCount {
		c.logger.Warn("自动重连次数已用尽，需要手动重新连接",
			zap.Int("max_attempts", c.reconnectCount))
		return
	}

	c.attempts++
	gen := c.connGen
	attempt := c.attempts
	c.reconnectTimer.Arm(c.reconnectDelay, func() {
		c.reconnect(gen, attempt)
	})
}

// reconnect 执行一次自动重连
func (c *Client) reconnect(gen uint64, attempt int) {
	c.mu.Lock()
	if gen != c.connGen || c.manualClose {
		c.mu.Unlock()
		return
	}
	c.state = model.ConnConnecting
	c.mu.Unlock()

	c.logger.Info("尝试自动重连",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", c.reconnectCount))

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	_ = c.dial(ctx, gen, false)
}

// handleMessage 解析入站文本并派发事件
//
// 先按JSON解析，失败则作为纯文本包装。type标签为
// health_check的消息额外在healthUpdate通道重发一次。
// 注意JSON编码的纯字符串会被当作结构化消息，这是与
// 后端约定保持一致的既有行为。
func (c *Client) handleMessage(gen uint64, raw []byte) {
	c.mu.Lock()
	stale := gen != c.connGen
	c.mu.Unlock()
	if stale {
		return
	}

	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		c.dispatch(MessageEvent{Kind: KindText, Raw: string(raw)})
		return
	}

	var tagged struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	// 非对象的JSON负载Type留空
	_ = json.Unmarshal(raw, &tagged)

	c.dispatch(MessageEvent{
		Kind:        KindJSON,
		MessageType: tagged.Type,
		Raw:         string(raw),
		Data:        tagged.Data,
	})

	if tagged.Type == MessageTypeHealthCheck {
		var status model.ServiceStatus
		if err := json.Unmarshal(tagged.Data, &status); err != nil {
			c.logger.Warn("健康更新负载解析失败", zap.Error(err))
			return
		}
		c.dispatch(HealthUpdateEvent{Status: status})
	}
}

// startHeartbeatLocked 启动心跳任务
func (c *Client) startHeartbeatLocked() {
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.Send("ping"); err != nil {
					c.logger.Warn("心跳发送失败", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
}

// stopHeartbeatLocked 停止心跳任务
func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// dispatch 向订阅方派发一个事件
func (c *Client) dispatch(ev Event) {
	c.subMu.RLock()
	handlers := make([]*Subscription, len(c.subs[ev.Type()]))
	copy(handlers, c.subs[ev.Type()])
	c.subMu.RUnlock()

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	for _, sub := range handlers {
		sub.handler(ev)
	}
}

// closeDetails 从读错误中提取关闭码和原因
func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// isNormalClose 判断是否为正常关闭
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
