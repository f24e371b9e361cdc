package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/dep2p/go-cube/config"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// 环境变量
const (
	envPrefix  = "CUBE_"
	envPreset  = "PRESET"
	envBackend = "BACKEND"
	envAddress = "ADDRESS"
	envMetrics = "METRICS"
	envClients = "CLIENTS"
)

// runtimeConfig 运行时配置（不属于 config.Config）
type runtimeConfig struct {
	preset  string
	clients int
}

// loadConfig 从文件加载配置，path 为空时返回默认配置
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.NewConfig(), nil
	}
	return config.LoadFile(path)
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
// 支持的环境变量（均使用 CUBE_ 前缀）：
//   - CUBE_PRESET: 预设名称
//   - CUBE_BACKEND: 传输后端
//   - CUBE_ADDRESS: 监听/拨号地址
//   - CUBE_METRICS: 是否启用指标
//   - CUBE_CLIENTS: 机器人客户端数量
func applyEnvOverrides(cfg *config.Config, rt *runtimeConfig) {
	if v := os.Getenv(envPrefix + envPreset); v != "" {
		rt.preset = v
	}
	if v := os.Getenv(envPrefix + envBackend); v != "" {
		cfg.Transport.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(envPrefix + envAddress); v != "" {
		cfg.Transport.Address = v
	}
	if v := os.Getenv(envPrefix + envMetrics); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv(envPrefix + envClients); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rt.clients = n
		}
	}
}

// ============================================================================
//                              辅助函数
// ============================================================================

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
