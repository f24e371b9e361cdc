package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。示例 JSON:
//
//	{
//	  "transport": {"backend": "quic", "address": "0.0.0.0:7777"},
//	  "server": {"tick_rate": 30, "max_bytes_per_tick": 8192},
//	  "client": {"inactivity_timeout": "5s"}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从 JSON 文件加载配置并验证
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ToJSON 序列化配置（带缩进）
func ToJSON(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// CloneConfig 深拷贝配置
//
// 所有子配置都是值类型，直接复制即可。
func CloneConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	c := *cfg
	return &c
}

// ApplyPreset 应用预设配置
//
// 支持的预设：
//   - "lan": 局域网，高 tick 率，大预算
//   - "internet": 公网，较低预算，启用每秒字节上限
//   - "test": loopback 后端，无延迟，关闭指标
func ApplyPreset(cfg *Config, presetName string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	switch presetName {
	case "lan":
		applyLANPreset(cfg)
	case "internet":
		applyInternetPreset(cfg)
	case "test":
		applyTestPreset(cfg)
	case "":
		// 空预设，不做任何操作
	default:
		return fmt.Errorf("unknown preset: %s", presetName)
	}
	return nil
}

func applyLANPreset(cfg *Config) {
	cfg.Server.TickRate = 60
	cfg.Server.MaxBytesPerTick = 16 * 1024
	cfg.Server.MaxObjectsPerTick = 1024
	cfg.Server.MaxBytesPerSecond = 0
	cfg.Client.InactivityTimeout = Duration(2 * time.Second)
	cfg.Transport.Lag = LagConfig{}
}

func applyInternetPreset(cfg *Config) {
	cfg.Server.TickRate = 30
	cfg.Server.MaxBytesPerTick = 2 * 1024
	cfg.Server.MaxObjectsPerTick = 128
	cfg.Server.MaxBytesPerSecond = 48 * 1024
	cfg.Client.InactivityTimeout = Duration(5 * time.Second)
	cfg.Transport.QUIC.MaxIdleTimeout = Duration(15 * time.Second)
	cfg.Transport.QUIC.KeepAlivePeriod = Duration(5 * time.Second)
}

func applyTestPreset(cfg *Config) {
	cfg.Transport.Backend = BackendLoopback
	cfg.Transport.Address = ""
	cfg.Transport.Lag = LagConfig{}
	cfg.Metrics.Enabled = false
}
