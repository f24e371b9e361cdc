package quic

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/quic-go/quic-go"

	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/log"
	"github.com/dep2p/go-cube/pkg/types"
)

var logger = log.Logger("core/transport/quic")

// Name 后端名称
const Name = "quic"

// Config QUIC 后端配置
type Config struct {
	// HandshakeTimeout 拨号 + hail 交换的超时
	HandshakeTimeout time.Duration

	// DenyLinger 拒绝后等待客户端读取原因的最长时间
	DenyLinger time.Duration

	// MaxIdleTimeout 连接空闲超时
	MaxIdleTimeout time.Duration

	// KeepAlivePeriod 保活间隔
	KeepAlivePeriod time.Duration

	// SendQueueSize 每个连接的发送队列长度
	SendQueueSize int

	// MaxFrameSize 流上单帧的最大字节数
	MaxFrameSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		DenyLinger:       2 * time.Second,
		MaxIdleTimeout:   6 * time.Second,
		KeepAlivePeriod:  3 * time.Second,
		SendQueueSize:    1024,
		MaxFrameSize:     1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.DenyLinger <= 0 {
		c.DenyLinger = d.DenyLinger
	}
	if c.MaxIdleTimeout <= 0 {
		c.MaxIdleTimeout = d.MaxIdleTimeout
	}
	if c.KeepAlivePeriod <= 0 {
		c.KeepAlivePeriod = d.KeepAlivePeriod
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	return c
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout:  c.HandshakeTimeout,
		MaxIdleTimeout:        c.MaxIdleTimeout,
		KeepAlivePeriod:       c.KeepAlivePeriod,
		MaxIncomingStreams:    64,
		MaxIncomingUniStreams: 1024,
		EnableDatagrams:       true,
	}
}

// ============================================================================
//                              Factory
// ============================================================================

// Factory 创建 QUIC 对端
type Factory struct {
	cfg   Config
	clock clock.Clock
}

var _ pkgif.TransportFactory = (*Factory)(nil)

// NewFactory 创建工厂，clk 用于延迟模拟（nil 为真实时钟）
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
