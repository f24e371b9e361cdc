package websocket

import (
	"time"

	"github.com/benbjohnson/clock"

	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/log"
	"github.com/dep2p/go-cube/pkg/types"
)

var logger = log.Logger("core/transport/websocket")

// Name 后端名称
const Name = "websocket"

// DefaultPath 服务端处理升级请求的路径
const DefaultPath = "/cube"

// Config WebSocket 后端配置
type Config struct {
	// Path 升级路径
	Path string

	// HandshakeTimeout 升级 + hail 交换的超时
	HandshakeTimeout time.Duration

	// WriteTimeout 单条消息的写超时
	WriteTimeout time.Duration

	// SendQueueSize 每个连接的发送队列长度
	SendQueueSize int

	// MaxMessageSize 单条消息的最大字节数
	MaxMessageSize int64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Path:             DefaultPath,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendQueueSize:    1024,
		MaxMessageSize:   1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// Factory 创建 WebSocket 对端
type Factory struct {
	cfg   Config
	clock clock.Clock
}

var _ pkgif.TransportFactory = (*Factory)(nil)

// NewFactory 创建工厂
func NewFactory(cfg Config, clk clock.Clock) *Factory {
	if clk == nil {
		clk = clock.New()
	}
	return &Factory{cfg: cfg.withDefaults(), clock: clk}
}

// Name 实现 TransportFactory
func (f *Factory) Name() string {
	return Name
}

// CreateClient 实现 TransportFactory
func (f *Factory) CreateClient() pkgif.ClientTransport {
	return NewClient(f.cfg, f.clock)
}

// CreateServer 实现 TransportFactory
func (f *Factory) CreateServer(maxClients int, lag types.SimulatedLag) pkgif.ServerTransport {
	return NewServer(f.cfg, f.clock, maxClients, lag)
}
