package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/core/transport/loopback"
	"github.com/dep2p/go-cube/internal/core/transport/quic"
	"github.com/dep2p/go-cube/internal/core/transport/websocket"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/log"
	"github.com/dep2p/go-cube/pkg/types"
)

var logger = log.Logger("core/transport")

// ReasonShutdown 管理器关闭时使用的断开原因
const ReasonShutdown = "shutdown"

// Config 传输层配置
type Config struct {
	// Backend 后端名称
	Backend string

	// Address 监听 / 拨号地址
	Address string

	// MaxClients 服务端最大连接数
	MaxClients int

	// Lag 服务端接收方向的延迟模拟
	Lag types.SimulatedLag

	// QUIC 后端参数
	QUIC quic.Config

	// WebSocket 后端参数
	WebSocket websocket.Config
}

// ConfigFromUnified 从统一配置创建传输配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return NewConfig()
	}
	t := cfg.Transport
	return Config{
		Backend:    t.Backend,
		Address:    t.Address,
		MaxClients: t.MaxClients,
		Lag: types.SimulatedLag{
			Enabled:       t.Lag.Enabled,
			MinLatency:    t.Lag.MinLatency.Duration(),
			MaxLatency:    t.Lag.MaxLatency.Duration(),
			LossRate:      t.Lag.LossRate,
			DuplicateRate: t.Lag.DuplicateRate,
		},
		QUIC: quic.Config{
			HandshakeTimeout: t.QUIC.HandshakeTimeout.Duration(),
			DenyLinger:       t.QUIC.DenyLinger.Duration(),
			MaxIdleTimeout:   t.QUIC.MaxIdleTimeout.Duration(),
			KeepAlivePeriod:  t.QUIC.KeepAlivePeriod.Duration(),
			SendQueueSize:    t.QUIC.SendQueueSize,
			MaxFrameSize:     t.QUIC.MaxFrameSize,
		},
		WebSocket: websocket.Config{
			Path:             t.WebSocket.Path,
			HandshakeTimeout: t.WebSocket.HandshakeTimeout.Duration(),
			WriteTimeout:     t.WebSocket.WriteTimeout.Duration(),
			SendQueueSize:    t.WebSocket.SendQueueSize,
			MaxMessageSize:   t.WebSocket.MaxMessageSize,
		},
	}
}

// NewConfig 创建默认配置
func NewConfig() Config {
	return ConfigFromUnified(config.NewConfig())
}

// NewFactory 按后端名称创建对端工厂
//
// network 仅 loopback 后端使用，nil 时创建新的进程内网络。
func NewFactory(cfg Config, clk clock.Clock, network *loopback.Network) (pkgif.TransportFactory, error) {
	switch cfg.Backend {
	case loopback.Name, "":
		if network == nil {
			network = loopback.NewNetwork(clk)
		}
		return loopback.NewFactory(network), nil
	case quic.Name:
		return quic.NewFactory(cfg.QUIC, clk), nil
	case websocket.Name:
		return websocket.NewFactory(cfg.WebSocket, clk), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// ============================================================================
//                              Manager
// ============================================================================

// Manager 传输管理器
//
// 包装后端工厂，记录创建的对端，关闭时统一断开。
type Manager struct {
	config  Config
	factory pkgif.TransportFactory

	mu      sync.Mutex
	closed  bool
	servers []pkgif.ServerTransport
	clients []pkgif.ClientTransport
}

// NewManager 创建传输管理器
func NewManager(cfg Config, clk clock.Clock, network *loopback.Network) (*Manager, error) {
	f, err := NewFactory(cfg, clk, network)
	if err != nil {
		return nil, err
	}
	logger.Debug("创建传输管理器", "backend", f.Name(), "address", cfg.Address, "maxClients", cfg.MaxClients)
	return NewManagerWithFactory(cfg, f), nil
}

// NewManagerWithFactory 使用外部提供的工厂创建管理器
func NewManagerWithFactory(cfg Config, f pkgif.TransportFactory) *Manager {
	return &Manager{config: cfg, factory: f}
}

// Config 返回配置
func (m *Manager) Config() Config {
	return m.config
}

// Factory 返回底层工厂
func (m *Manager) Factory() pkgif.TransportFactory {
	return m.factory
}

// Backend 返回后端名称
func (m *Manager) Backend() string {
	return m.factory.Name()
}

// CreateServer 以配置中的 MaxClients 与 Lag 创建服务端
func (m *Manager) CreateServer() pkgif.ServerTransport {
	s := m.factory.CreateServer(m.config.MaxClients, m.config.Lag)
	m.mu.Lock()
	m.servers = append(m.servers, s)
	m.mu.Unlock()
	return s
}

// CreateClient 创建客户端
func (m *Manager) CreateClient() pkgif.ClientTransport {
	c := m.factory.CreateClient()
	m.mu.Lock()
	m.clients = append(m.clients, c)
	m.mu.Unlock()
	return c
}

// Close 断开所有客户端并关闭所有服务端
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	servers, clients := m.servers, m.clients
	m.servers, m.clients = nil, nil
	m.mu.Unlock()

	var err error
	for _, c := range clients {
		if c.IsConnected() {
			err = multierr.Append(err, c.Disconnect(ReasonShutdown))
		}
	}
	for _, s := range servers {
		err = multierr.Append(err, s.Shutdown(ReasonShutdown))
	}
	logger.Info("传输管理器已关闭", "backend", m.factory.Name(), "servers", len(servers), "clients", len(clients))
	return err
}

// ============================================================================
//                              Fx 模块
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	Config  *config.Config         `optional:"true"`
	Clock   clock.Clock            `optional:"true"`
	Network *loopback.Network      `optional:"true"`
	Factory pkgif.TransportFactory `name:"transport_override" optional:"true"`
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(
			ProvideConfig,
			ProvideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideConfig 从统一配置提供传输配置
func ProvideConfig(p Params) Config {
	return ConfigFromUnified(p.Config)
}

// ProvideManager 提供传输管理器，显式注入的工厂优先
func ProvideManager(cfg Config, p Params) (*Manager, error) {
	if p.Factory != nil {
		return NewManagerWithFactory(cfg, p.Factory), nil
	}
	return NewManager(cfg, p.Clock, p.Network)
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return m.Close()
		},
	})
}
