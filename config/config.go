// Package config 提供 Cube 的统一配置
//
// 主 Config 结构体按模块组织子配置，每个子配置在独立文件中定义，
// 可以从 JSON 加载，也可以通过预设快速切换场景：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Transport.Backend = "quic"
//	cfg.Server.MaxBytesPerTick = 8 * 1024
//
//	// 应用预设
//	err := config.ApplyPreset(cfg, "internet")
//
//	// 从文件加载
//	cfg, err := config.LoadFile("cube.json")
//
// 时长字段在 JSON 中使用字符串（"100ms"、"3s"），见 Duration。
package config

import "fmt"

// Config Cube 完整配置
//
//   - Transport: 传输后端、监听地址、延迟模拟
//   - Server: 服务端复制调度（tick、带宽预算、可靠性与通道）
//   - Client: 客户端镜像管理（不活跃超时、销毁墓碑）
//   - Priority: 默认优先级参数
//   - Metrics: Prometheus 指标
type Config struct {
	// Transport 传输配置
	Transport TransportConfig `json:"transport"`

	// Server 服务端复制配置
	Server ServerConfig `json:"server"`

	// Client 客户端复制配置
	Client ClientConfig `json:"client"`

	// Priority 优先级配置
	Priority PriorityConfig `json:"priority"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Transport: DefaultTransportConfig(),
		Server:    DefaultServerConfig(),
		Client:    DefaultClientConfig(),
		Priority:  DefaultPriorityConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// Validate 验证全部子配置
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := c.Priority.Validate(); err != nil {
		return fmt.Errorf("priority: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
