package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Transport 抽象推送通道的底层连接
//
// 生产环境由gorilla的*websocket.Conn实现，测试使用内存伪实现。
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer 建立新的传输连接
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// wsDialer 基于gorilla/websocket的Dialer实现
type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer 创建WebSocket拨号器
func NewWebSocketDialer(handshakeTimeout time.Duration) Dialer {
	return &wsDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial 建立WebSocket连接
func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("建立WebSocket连接失败: %w", err)
	}
	return conn, nil
}
