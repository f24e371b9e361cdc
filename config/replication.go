package config

import (
	"errors"
	"time"
)

// ServerConfig 服务端复制配置
type ServerConfig struct {
	// TickRate 每秒 tick 数
	TickRate int `json:"tick_rate"`

	// MaxBytesPerTick 每个观察者每 tick 的更新字节预算
	MaxBytesPerTick int `json:"max_bytes_per_tick"`

	// MaxObjectsPerTick 每个观察者每 tick 的副本数预算
	MaxObjectsPerTick int `json:"max_objects_per_tick"`

	// MaxBytesPerSecond 每个观察者每秒的字节上限，0 表示不限
	MaxBytesPerSecond int `json:"max_bytes_per_second"`

	// MaxUpdateMessageBytes 单条更新消息的最大字节数
	MaxUpdateMessageBytes int `json:"max_update_message_bytes"`

	// MinPriorityForSending 低于该值的副本本 tick 不发送
	MinPriorityForSending float32 `json:"min_priority_for_sending"`

	// UpdateReliability 更新消息的可靠性等级
	UpdateReliability string `json:"update_reliability"`

	// UpdateChannel / DestroyChannel / RPCChannel 各类消息使用的通道
	UpdateChannel  uint8 `json:"update_channel"`
	DestroyChannel uint8 `json:"destroy_channel"`
	RPCChannel     uint8 `json:"rpc_channel"`

	// AutoObserve 连接建立时自动创建观察者
	AutoObserve bool `json:"auto_observe"`
}

// ClientConfig 客户端复制配置
type ClientConfig struct {
	// InactivityTimeout 非场景副本超过该时长未收到更新则本地销毁
	InactivityTimeout Duration `json:"inactivity_timeout"`

	// TombstoneTTL 显式销毁的 id 在该时长内忽略迟到的更新
	TombstoneTTL Duration `json:"tombstone_ttl"`

	// ExpiredGrace 超时销毁的 id 在该时长内忽略迟到的更新
	ExpiredGrace Duration `json:"expired_grace"`

	// TombstoneCapacity 墓碑缓存容量
	TombstoneCapacity int `json:"tombstone_capacity"`

	// RPCChannel 客户端 RPC 使用的通道
	RPCChannel uint8 `json:"rpc_channel"`
}

// PriorityConfig 新副本的默认优先级参数
type PriorityConfig struct {
	// DefaultMaxViewDistance 默认最大可视距离
	DefaultMaxViewDistance float32 `json:"default_max_view_distance"`

	// DefaultUpdateInterval 默认期望更新间隔
	DefaultUpdateInterval Duration `json:"default_update_interval"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否注册 Prometheus 指标
	Enabled bool `json:"enabled"`

	// Namespace 指标名前缀
	Namespace string `json:"namespace"`
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		TickRate:              60,
		MaxBytesPerTick:       4 * 1024,
		MaxObjectsPerTick:     256,
		MaxBytesPerSecond:     0,
		MaxUpdateMessageBytes: 1200,
		MinPriorityForSending: 0.05,
		UpdateReliability:     "unreliable-sequenced",
		UpdateChannel:         0,
		DestroyChannel:        1,
		RPCChannel:            2,
		AutoObserve:           true,
	}
}

// DefaultClientConfig 返回默认客户端配置
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		InactivityTimeout: Duration(3 * time.Second),
		TombstoneTTL:      Duration(10 * time.Second),
		ExpiredGrace:      Duration(500 * time.Millisecond),
		TombstoneCapacity: 4096,
		RPCChannel:        2,
	}
}

// DefaultPriorityConfig 返回默认优先级配置
func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		DefaultMaxViewDistance: 100,
		DefaultUpdateInterval:  Duration(100 * time.Millisecond),
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "cube",
	}
}

// Validate 验证服务端配置
func (c ServerConfig) Validate() error {
	if c.TickRate <= 0 {
		return errors.New("tick_rate must be > 0")
	}
	if c.MaxBytesPerTick <= 0 {
		return errors.New("max_bytes_per_tick must be > 0")
	}
	if c.MaxObjectsPerTick <= 0 {
		return errors.New("max_objects_per_tick must be > 0")
	}
	if c.MaxBytesPerSecond < 0 {
		return errors.New("max_bytes_per_second must be >= 0")
	}
	// 类型字节 + 条目数 + 至少一个条目头
	if c.MaxUpdateMessageBytes < 16 {
		return errors.New("max_update_message_bytes must be >= 16")
	}
	if c.MinPriorityForSending < 0 || c.MinPriorityForSending > 1 {
		return errors.New("min_priority_for_sending must be in [0,1]")
	}
	if _, ok := ParseReliability(c.UpdateReliability); !ok {
		return errors.New("unknown update_reliability " + c.UpdateReliability)
	}
	if c.UpdateChannel >= 32 || c.DestroyChannel >= 32 || c.RPCChannel >= 32 {
		return errors.New("channels must be < 32")
	}
	return nil
}

// Validate 验证客户端配置
func (c ClientConfig) Validate() error {
	if c.InactivityTimeout <= 0 {
		return errors.New("inactivity_timeout must be > 0")
	}
	if c.TombstoneTTL < 0 || c.ExpiredGrace < 0 {
		return errors.New("tombstone durations must be >= 0")
	}
	if c.TombstoneCapacity <= 0 {
		return errors.New("tombstone_capacity must be > 0")
	}
	if c.RPCChannel >= 32 {
		return errors.New("rpc_channel must be < 32")
	}
	return nil
}

// Validate 验证优先级配置
func (c PriorityConfig) Validate() error {
	if c.DefaultMaxViewDistance < 0 {
		return errors.New("default_max_view_distance must be >= 0")
	}
	if c.DefaultUpdateInterval < 0 {
		return errors.New("default_update_interval must be >= 0")
	}
	return nil
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if c.Enabled && c.Namespace == "" {
		return errors.New("namespace required when metrics enabled")
	}
	return nil
}

// ParseReliability 解析可靠性等级名，返回其数值
//
// 数值与 types.Reliability 一致；config 包不依赖 types 以避免循环引用。
func ParseReliability(s string) (uint8, bool) {
	switch s {
	case "unreliable":
		return 0, true
	case "unreliable-sequenced":
		return 1, true
	case "reliable-unordered":
		return 2, true
	case "reliable-ordered":
		return 3, true
	case "reliable-sequenced":
		return 4, true
	default:
		return 0, false
	}
}
