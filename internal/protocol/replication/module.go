package replication

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/core/metrics"
	"github.com/dep2p/go-cube/internal/core/priority"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/internal/core/transport"
	"github.com/dep2p/go-cube/pkg/lib/log"
	"github.com/dep2p/go-cube/pkg/types"
)

var logger = log.Logger("protocol/replication")

// ============================================================================
//                              配置
// ============================================================================

// ServerConfig 服务端复制配置
type ServerConfig struct {
	// MaxBytesPerTick 每个观察者每 tick 的更新字节预算
	MaxBytesPerTick int
	// MaxObjectsPerTick 每个观察者每 tick 的副本数预算
	MaxObjectsPerTick int
	// MaxBytesPerSecond 每个观察者每秒字节上限，0 表示不限
	MaxBytesPerSecond int
	// MaxUpdateMessageBytes 单条更新消息上限
	MaxUpdateMessageBytes int
	// MinPriorityForSending 最低发送优先级
	MinPriorityForSending float32

	UpdateReliability types.Reliability
	UpdateChannel     types.Channel
	DestroyChannel    types.Channel
	RPCChannel        types.Channel

	// AutoObserve 连接建立时自动创建观察者
	AutoObserve bool
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() ServerConfig {
	return ServerConfigFromUnified(nil)
}

// ServerConfigFromUnified 从统一配置创建服务端配置
func ServerConfigFromUnified(cfg *config.Config) ServerConfig {
	s := config.DefaultServerConfig()
	if cfg != nil {
		s = cfg.Server
	}
	rel, ok := config.ParseReliability(s.UpdateReliability)
	if !ok {
		rel = uint8(types.UnreliableSequenced)
	}
	return ServerConfig{
		MaxBytesPerTick:       s.MaxBytesPerTick,
		MaxObjectsPerTick:     s.MaxObjectsPerTick,
		MaxBytesPerSecond:     s.MaxBytesPerSecond,
		MaxUpdateMessageBytes: s.MaxUpdateMessageBytes,
		MinPriorityForSending: s.MinPriorityForSending,
		UpdateReliability:     types.Reliability(rel),
		UpdateChannel:         types.Channel(s.UpdateChannel),
		DestroyChannel:        types.Channel(s.DestroyChannel),
		RPCChannel:            types.Channel(s.RPCChannel),
		AutoObserve:           s.AutoObserve,
	}
}

// ClientConfig 客户端复制配置
type ClientConfig struct {
	// InactivityTimeout 非场景镜像的不活跃超时
	InactivityTimeout time.Duration
	// TombstoneTTL 显式销毁后忽略迟到更新的时长
	TombstoneTTL time.Duration
	// ExpiredGrace 超时销毁后忽略迟到更新的时长
	ExpiredGrace time.Duration
	// TombstoneCapacity 墓碑缓存容量
	TombstoneCapacity int
	// RPCChannel 客户端 RPC 通道
	RPCChannel types.Channel
}

// DefaultClientConfig 返回默认客户端配置
func DefaultClientConfig() ClientConfig {
	return ClientConfigFromUnified(nil)
}

// ClientConfigFromUnified 从统一配置创建客户端配置
func ClientConfigFromUnified(cfg *config.Config) ClientConfig {
	c := config.DefaultClientConfig()
	if cfg != nil {
		c = cfg.Client
	}
	return ClientConfig{
		InactivityTimeout: c.InactivityTimeout.Duration(),
		TombstoneTTL:      c.TombstoneTTL.Duration(),
		ExpiredGrace:      c.ExpiredGrace.Duration(),
		TombstoneCapacity: c.TombstoneCapacity,
		RPCChannel:        types.Channel(c.RPCChannel),
	}
}

// ============================================================================
//                              Fx 模块
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config         `optional:"true"`
	Clock      clock.Clock            `optional:"true"`
	Transports *transport.Manager
	Priority   priority.Manager       `optional:"true"`
	Defaults   priority.Config        `optional:"true"`
	Factory    replica.Factory        `optional:"true"`
	Lookup     replica.TemplateLookup `optional:"true"`
	Reporter   metrics.Reporter       `optional:"true"`
	Collector  *metrics.Collector     `optional:"true"`
}

// Module 返回 Fx 模块
//
// 服务端与客户端按需构造，只引用其中一个时另一个不会创建。
func Module() fx.Option {
	return fx.Module("replication",
		fx.Provide(
			ProvideServerConfig,
			ProvideClientConfig,
			ProvideServer,
			ProvideClient,
		),
	)
}

// ProvideServerConfig 从统一配置提供服务端配置
func ProvideServerConfig(p Params) ServerConfig {
	return ServerConfigFromUnified(p.UnifiedCfg)
}

// ProvideClientConfig 从统一配置提供客户端配置
func ProvideClientConfig(p Params) ClientConfig {
	return ClientConfigFromUnified(p.UnifiedCfg)
}

// ProvideServer 在传输管理器创建的服务端对端上构造服务端副本管理器
func ProvideServer(cfg ServerConfig, p Params) *Server {
	defaults := p.Defaults
	if defaults == (priority.Config{}) {
		defaults = priority.ConfigFromUnified(p.UnifiedCfg)
	}
	return NewServer(cfg, ServerDeps{
		Transport: p.Transports.CreateServer(),
		Clock:     p.Clock,
		Priority:  p.Priority,
		Defaults:  defaults.DefaultSettings(),
		Factory:   p.Factory,
		Lookup:    p.Lookup,
		Reporter:  p.Reporter,
		Collector: p.Collector,
	})
}

// ProvideClient 在传输管理器创建的客户端对端上构造客户端副本管理器
func ProvideClient(cfg ClientConfig, p Params) *Client {
	return NewClient(cfg, ClientDeps{
		Transport: p.Transports.CreateClient(),
		Clock:     p.Clock,
		Factory:   p.Factory,
		Lookup:    p.Lookup,
		Reporter:  p.Reporter,
		Collector: p.Collector,
	})
}
