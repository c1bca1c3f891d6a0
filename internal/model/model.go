package model

import (
	"strings"
	"time"
)

// Service 服务描述符
//
// 由后端拥有；本进程只持有每次加载的只读缓存副本，
// 外加表单提交后的乐观本地插入（Pending为true）。
type Service struct {
	ServiceID      string `json:"service_id"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	HealthEndpoint string `json:"health_endpoint"`
	LogsEndpoint   string `json:"logs_endpoint"`
	CheckInterval  int    `json:"check_interval"` // 秒
	LogLines       int    `json:"log_lines"`
	Timeout        int    `json:"timeout"` // 毫秒
	ExpectedStatus int    `json:"expected_status"`
	IsActive       bool   `json:"is_active"`
	// Pending 标记乐观插入但尚未被后端确认的服务
	Pending bool `json:"pending,omitempty"`
}

// ServiceStatus 服务状态快照
//
// 按service_id键控，整体替换或按推送更新打补丁，不保留历史。
type ServiceStatus struct {
	ServiceID    string    `json:"service_id"`
	ServiceName  string    `json:"service_name,omitempty"`
	IsHealthy    bool      `json:"is_healthy"`
	StatusCode   int       `json:"status_code"`
	ResponseTime float64   `json:"response_time"` // 毫秒
	LastCheck    time.Time `json:"last_check"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// LogLevel 日志严重级别
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelOther LogLevel = "OTHER"
)

// ParseLevel 归一化任意严重级别文本
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR", "ERR", "FATAL", "CRITICAL":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "INFO":
		return LevelInfo
	default:
		return LevelOther
	}
}

// LogEntry 单条日志
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	ServiceID string    `json:"service_id"`
}

// Alert 后端告警记录
type Alert struct {
	ID         int        `json:"id"`
	ServiceID  string     `json:"service_id"`
	AlertType  string     `json:"alert_type"`
	Message    string     `json:"message"`
	Severity   string     `json:"severity"`
	IsResolved bool       `json:"is_resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ConnState 推送通道的原始传输状态
type ConnState string

const (
	ConnIdle         ConnState = "idle"
	ConnConnecting   ConnState = "connecting"
	ConnOpen         ConnState = "open"
	ConnClosing      ConnState = "closing"
	ConnDisconnected ConnState = "closed"
)

// StableStatus 去抖后的界面可见连接状态
//
// 经宽限期规则从原始传输状态派生: 断开只有在宽限期内
// 没有重新建立连接时才对外可见，连接成功则立即可见。
type StableStatus string

const (
	StableConnected    StableStatus = "connected"
	StableDisconnected StableStatus = "disconnected"
)
