package config

import (
	"errors"
	"fmt"
	"time"
)

// 传输后端名称
const (
	BackendLoopback  = "loopback"
	BackendQUIC      = "quic"
	BackendWebSocket = "websocket"
)

// TransportConfig 传输配置
type TransportConfig struct {
	// Backend 后端：loopback / quic / websocket
	Backend string `json:"backend"`

	// Address 服务端监听地址 / 客户端拨号地址
	Address string `json:"address"`

	// MaxClients 服务端最大连接数，0 表示不限
	MaxClients int `json:"max_clients"`

	// Lag 服务端接收方向的延迟模拟
	Lag LagConfig `json:"lag"`

	// QUIC 后端参数
	QUIC QUICConfig `json:"quic,omitempty"`

	// WebSocket 后端参数
	WebSocket WebSocketConfig `json:"websocket,omitempty"`
}

// LagConfig 延迟模拟配置
type LagConfig struct {
	Enabled       bool     `json:"enabled"`
	MinLatency    Duration `json:"min_latency"`
	MaxLatency    Duration `json:"max_latency"`
	LossRate      float64  `json:"loss_rate"`
	DuplicateRate float64  `json:"duplicate_rate"`
}

// QUICConfig QUIC 后端配置
type QUICConfig struct {
	HandshakeTimeout Duration `json:"handshake_timeout"`
	DenyLinger       Duration `json:"deny_linger"`
	MaxIdleTimeout   Duration `json:"max_idle_timeout"`
	KeepAlivePeriod  Duration `json:"keep_alive_period"`
	SendQueueSize    int      `json:"send_queue_size"`
	MaxFrameSize     int      `json:"max_frame_size"`
}

// WebSocketConfig WebSocket 后端配置
type WebSocketConfig struct {
	Path             string   `json:"path"`
	HandshakeTimeout Duration `json:"handshake_timeout"`
	WriteTimeout     Duration `json:"write_timeout"`
	SendQueueSize    int      `json:"send_queue_size"`
	MaxMessageSize   int64    `json:"max_message_size"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Backend:    BackendLoopback,
		Address:    "127.0.0.1:7777",
		MaxClients: 64,
		QUIC: QUICConfig{
			HandshakeTimeout: Duration(5 * time.Second),
			DenyLinger:       Duration(2 * time.Second),
			MaxIdleTimeout:   Duration(6 * time.Second),
			KeepAlivePeriod:  Duration(3 * time.Second),
			SendQueueSize:    1024,
			MaxFrameSize:     1 << 20,
		},
		WebSocket: WebSocketConfig{
			Path:             "/cube",
			HandshakeTimeout: Duration(5 * time.Second),
			WriteTimeout:     Duration(5 * time.Second),
			SendQueueSize:    1024,
			MaxMessageSize:   1 << 20,
		},
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	switch c.Backend {
	case BackendLoopback, BackendQUIC, BackendWebSocket:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.MaxClients < 0 {
		return errors.New("max_clients must be >= 0")
	}
	return c.Lag.Validate()
}

// Validate 验证延迟模拟配置
func (c LagConfig) Validate() error {
	if c.MinLatency < 0 || c.MaxLatency < 0 {
		return errors.New("lag latency must be >= 0")
	}
	if c.MaxLatency < c.MinLatency {
		return errors.New("lag max_latency must be >= min_latency")
	}
	if c.LossRate < 0 || c.LossRate > 1 {
		return errors.New("lag loss_rate must be in [0,1]")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.New("lag duplicate_rate must be in [0,1]")
	}
	return nil
}
