package priority

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/core/replica"
)

// Config 优先级配置
type Config struct {
	// MaxViewDistance 新副本的默认最大可视距离
	MaxViewDistance float32

	// UpdateInterval 新副本的默认期望更新间隔
	UpdateInterval time.Duration
}

// NewConfig 创建默认配置
func NewConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建优先级配置
func ConfigFromUnified(cfg *config.Config) Config {
	p := config.DefaultPriorityConfig()
	if cfg != nil {
		p = cfg.Priority
	}
	return Config{
		MaxViewDistance: p.DefaultMaxViewDistance,
		UpdateInterval:  p.DefaultUpdateInterval.Duration(),
	}
}

// DefaultSettings 按配置生成新副本的默认参数
func (c Config) DefaultSettings() replica.Settings {
	return replica.Settings{
		MaxViewDistance:       c.MaxViewDistance,
		DesiredUpdateInterval: c.UpdateInterval,
	}
}

// Params 模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Clock      clock.Clock    `optional:"true"`
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("priority",
		fx.Provide(
			ProvideConfig,
			ProvideManager,
		),
	)
}

// ProvideConfig 从统一配置提供优先级配置
func ProvideConfig(p Params) Config {
	return ConfigFromUnified(p.UnifiedCfg)
}

// ProvideManager 提供默认策略，可用 fx.Decorate 替换
func ProvideManager(p Params) Manager {
	return NewDefaultManager(p.Clock)
}
