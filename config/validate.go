package config

import (
	"errors"
	"fmt"
)

// ValidateAll 验证整个配置的有效性
//
// Config.Validate() 的别名，nil 配置返回错误。
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// ValidateAndFix 验证配置并尝试自动修复常见问题
//
// 可修复的问题：
//   - 延迟模拟 min > max -> 交换
//   - 非正的 tick 率 / 预算 -> 使用默认值
//   - ExpiredGrace 大于 TombstoneTTL -> 截断为 TombstoneTTL
//   - 启用指标但命名空间为空 -> "cube"
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	lag := &c.Transport.Lag
	if lag.MinLatency > lag.MaxLatency {
		lag.MinLatency, lag.MaxLatency = lag.MaxLatency, lag.MinLatency
	}

	def := DefaultServerConfig()
	if c.Server.TickRate <= 0 {
		c.Server.TickRate = def.TickRate
	}
	if c.Server.MaxBytesPerTick <= 0 {
		c.Server.MaxBytesPerTick = def.MaxBytesPerTick
	}
	if c.Server.MaxObjectsPerTick <= 0 {
		c.Server.MaxObjectsPerTick = def.MaxObjectsPerTick
	}
	if c.Server.MaxUpdateMessageBytes <= 0 {
		c.Server.MaxUpdateMessageBytes = def.MaxUpdateMessageBytes
	}
	if c.Server.UpdateReliability == "" {
		c.Server.UpdateReliability = def.UpdateReliability
	}

	if c.Client.InactivityTimeout <= 0 {
		c.Client.InactivityTimeout = DefaultClientConfig().InactivityTimeout
	}
	if c.Client.TombstoneCapacity <= 0 {
		c.Client.TombstoneCapacity = DefaultClientConfig().TombstoneCapacity
	}
	if c.Client.ExpiredGrace > c.Client.TombstoneTTL {
		c.Client.ExpiredGrace = c.Client.TombstoneTTL
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsConfig().Namespace
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed after fixes: %w", err)
	}
	return c, nil
}

// MustValidate 验证配置，如果失败则 panic
//
// 仅用于初始化阶段或测试代码。
func MustValidate(c *Config) {
	if err := ValidateAll(c); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}
}
