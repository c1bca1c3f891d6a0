package realtime

import (
	"encoding/json"

	"github.com/kbeye/console/internal/model"
)

// EventType 推送客户端对外事件的封闭集合
type EventType string

const (
	EventOpen         EventType = "open"
	EventClose        EventType = "close"
	EventError        EventType = "error"
	EventMessage      EventType = "message"
	EventHealthUpdate EventType = "healthUpdate"
	EventStableStatus EventType = "stableStatusChange"
)

// knownEventTypes 订阅时校验事件名称
var knownEventTypes = map[EventType]bool{
	EventOpen:         true,
	EventClose:        true,
	EventError:        true,
	EventMessage:      true,
	EventHealthUpdate: true,
	EventStableStatus: true,
}

// Event 推送客户端事件，按类型携带各自的负载
type Event interface {
	Type() EventType
}

// OpenEvent 传输连接建立
type OpenEvent struct{}

func (OpenEvent) Type() EventType { return EventOpen }

// CloseEvent 传输连接关闭
type CloseEvent struct {
	Code   int
	Reason string
}

func (CloseEvent) Type() EventType { return EventClose }

// ErrorEvent 传输层错误
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) Type() EventType { return EventError }

// MessageKind 入站消息的形态
type MessageKind string

const (
	KindJSON MessageKind = "json"
	KindText MessageKind = "text"
)

// MessageTypeHealthCheck 健康更新消息的type标签值
const MessageTypeHealthCheck = "health_check"

// MessageEvent 通用入站消息
//
// 入站文本先按JSON解析；解析失败则作为纯文本包装，
// MessageType只在JSON对象带type字段时非空。
type MessageEvent struct {
	Kind        MessageKind
	MessageType string
	Raw         string
	Data        json.RawMessage
}

func (MessageEvent) Type() EventType { return EventMessage }

// HealthUpdateEvent 带health_check标签的推送消息
//
// 只关心健康更新的订阅方无需过滤通用消息。
type HealthUpdateEvent struct {
	Status model.ServiceStatus
}

func (HealthUpdateEvent) Type() EventType { return EventHealthUpdate }

// StableStatusEvent 去抖后的连接状态变化
type StableStatusEvent struct {
	Status model.StableStatus
}

func (StableStatusEvent) Type() EventType { return EventStableStatus }

// Handler 事件回调
type Handler func(Event)

// Subscription 订阅句柄，用于退订
type Subscription struct {
	eventType EventType
	handler   Handler
}
