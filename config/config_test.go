package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig 测试创建默认配置
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, BackendLoopback, cfg.Transport.Backend)
	assert.Equal(t, 60, cfg.Server.TickRate)
	assert.Equal(t, 1200, cfg.Server.MaxUpdateMessageBytes)
	assert.Equal(t, "unreliable-sequenced", cfg.Server.UpdateReliability)
	assert.Equal(t, 3*time.Second, cfg.Client.InactivityTimeout.Duration())

	t.Log("✅ NewConfig 测试通过")
}

// TestTransportConfig 测试传输配置验证
func TestTransportConfig(t *testing.T) {
	t.Run("UnknownBackend", func(t *testing.T) {
		cfg := DefaultTransportConfig()
		cfg.Backend = "carrier-pigeon"
		assert.Error(t, cfg.Validate())
	})

	t.Run("NegativeMaxClients", func(t *testing.T) {
		cfg := DefaultTransportConfig()
		cfg.MaxClients = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("LagMinAboveMax", func(t *testing.T) {
		cfg := DefaultTransportConfig()
		cfg.Lag = LagConfig{Enabled: true, MinLatency: Duration(time.Second), MaxLatency: Duration(time.Millisecond)}
		assert.Error(t, cfg.Validate())
	})

	t.Run("LagLossRate", func(t *testing.T) {
		cfg := DefaultTransportConfig()
		cfg.Lag.LossRate = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Log("✅ TransportConfig 测试通过")
}

// TestServerConfig 测试服务端配置验证
func TestServerConfig(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		assert.NoError(t, DefaultServerConfig().Validate())
	})

	t.Run("ZeroTickRate", func(t *testing.T) {
		cfg := DefaultServerConfig()
		cfg.TickRate = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("UnknownReliability", func(t *testing.T) {
		cfg := DefaultServerConfig()
		cfg.UpdateReliability = "maybe"
		assert.Error(t, cfg.Validate())
	})

	t.Run("ChannelOutOfRange", func(t *testing.T) {
		cfg := DefaultServerConfig()
		cfg.DestroyChannel = 32
		assert.Error(t, cfg.Validate())
	})
}

// TestParseReliability 测试可靠性名称解析
func TestParseReliability(t *testing.T) {
	v, ok := ParseReliability("reliable-ordered")
	assert.True(t, ok)
	assert.Equal(t, uint8(3), v)

	_, ok = ParseReliability("")
	assert.False(t, ok)
}

// TestFromJSON 测试从 JSON 加载
func TestFromJSON(t *testing.T) {
	data := []byte(`{
		"transport": {"backend": "websocket", "address": "0.0.0.0:9000"},
		"server": {"tick_rate": 30},
		"client": {"inactivity_timeout": "5s", "tombstone_ttl": 2000000000}
	}`)

	cfg, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, BackendWebSocket, cfg.Transport.Backend)
	assert.Equal(t, "0.0.0.0:9000", cfg.Transport.Address)
	assert.Equal(t, 30, cfg.Server.TickRate)
	// 未出现的字段保留默认值
	assert.Equal(t, DefaultServerConfig().MaxBytesPerTick, cfg.Server.MaxBytesPerTick)
	assert.Equal(t, 5*time.Second, cfg.Client.InactivityTimeout.Duration())
	assert.Equal(t, 2*time.Second, cfg.Client.TombstoneTTL.Duration())

	_, err = FromJSON([]byte(`{"client": {"inactivity_timeout": "soon"}}`))
	assert.Error(t, err)

	t.Log("✅ FromJSON 测试通过")
}

// TestLoadFile 测试文件加载与回写
func TestLoadFile(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport.Backend = BackendQUIC
	data, err := ToJSON(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"inactivity_timeout": "3s"`)

	path := filepath.Join(t.TempDir(), "cube.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// TestApplyPreset 测试预设
func TestApplyPreset(t *testing.T) {
	for _, name := range []string{"lan", "internet", "test", ""} {
		cfg := NewConfig()
		require.NoError(t, ApplyPreset(cfg, name), name)
		assert.NoError(t, cfg.Validate(), name)
	}

	cfg := NewConfig()
	require.NoError(t, ApplyPreset(cfg, "test"))
	assert.Equal(t, BackendLoopback, cfg.Transport.Backend)
	assert.False(t, cfg.Metrics.Enabled)

	assert.Error(t, ApplyPreset(NewConfig(), "mars"))
	assert.Error(t, ApplyPreset(nil, "lan"))
}

// TestCloneConfig 测试拷贝独立性
func TestCloneConfig(t *testing.T) {
	cfg := NewConfig()
	clone := CloneConfig(cfg)
	clone.Server.TickRate = 10
	assert.Equal(t, 60, cfg.Server.TickRate)
	assert.Nil(t, CloneConfig(nil))
}

// TestValidateAndFix 测试自动修复
func TestValidateAndFix(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport.Lag = LagConfig{Enabled: true, MinLatency: Duration(50 * time.Millisecond), MaxLatency: Duration(10 * time.Millisecond)}
	cfg.Server.TickRate = 0
	cfg.Client.ExpiredGrace = Duration(time.Minute)
	cfg.Metrics.Namespace = ""

	fixed, err := ValidateAndFix(cfg)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, fixed.Transport.Lag.MinLatency.Duration())
	assert.Equal(t, 50*time.Millisecond, fixed.Transport.Lag.MaxLatency.Duration())
	assert.Equal(t, 60, fixed.Server.TickRate)
	assert.Equal(t, fixed.Client.TombstoneTTL, fixed.Client.ExpiredGrace)
	assert.Equal(t, "cube", fixed.Metrics.Namespace)

	def, err := ValidateAndFix(nil)
	require.NoError(t, err)
	assert.NotNil(t, def)
}

// TestMustValidate 测试 panic 行为
func TestMustValidate(t *testing.T) {
	assert.NotPanics(t, func() { MustValidate(NewConfig()) })
	assert.Panics(t, func() { MustValidate(nil) })
}
