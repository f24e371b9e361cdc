package cube

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/core/priority"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/internal/core/transport/loopback"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 统一配置，为空时使用 config.NewConfig()
	config *config.Config
	preset string

	// 传输
	transportFactory pkgif.TransportFactory
	network          *loopback.Network

	// 副本
	lookup  replica.TemplateLookup
	factory replica.Factory

	clock      clock.Clock
	priority   priority.Manager
	registerer prometheus.Registerer
	approver   pkgif.ApproveFunc
}

func newOptions(opts []Option) (*options, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	return o, nil
}

// unifiedConfig 合并配置与预设，并校验
func (o *options) unifiedConfig() (*config.Config, error) {
	var cfg *config.Config
	if o.config != nil {
		cfg = config.CloneConfig(o.config)
	} else {
		cfg = config.NewConfig()
	}
	if err := config.ApplyPreset(cfg, o.preset); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整的统一配置
//
// 传入的配置会被复制，之后的修改不会影响已创建的实例。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.config = cfg
		return nil
	}
}

// WithPreset 在配置之上应用预设（lan / internet / test）
func WithPreset(name string) Option {
	return func(o *options) error {
		switch name {
		case PresetLAN, PresetInternet, PresetTest:
		default:
			return fmt.Errorf("unknown preset: %s", name)
		}
		o.preset = name
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              传输
// ════════════════════════════════════════════════════════════════════════════

// WithTransportFactory 使用自定义传输后端，忽略配置中的 backend
func WithTransportFactory(f pkgif.TransportFactory) Option {
	return func(o *options) error {
		if f == nil {
			return errors.New("transport factory is nil")
		}
		o.transportFactory = f
		return nil
	}
}

// WithLoopbackNetwork 让多个实例共享同一个进程内网络
//
// 仅在 loopback 后端下生效。
func WithLoopbackNetwork(n *loopback.Network) Option {
	return func(o *options) error {
		o.network = n
		return nil
	}
}

// WithApprover 设置服务端握手审批回调
func WithApprover(fn pkgif.ApproveFunc) Option {
	return func(o *options) error {
		o.approver = fn
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              副本
// ════════════════════════════════════════════════════════════════════════════

// WithTemplateLookup 设置模板索引到模板的查找表
func WithTemplateLookup(l replica.TemplateLookup) Option {
	return func(o *options) error {
		o.lookup = l
		return nil
	}
}

// WithFactory 设置副本工厂
func WithFactory(f replica.Factory) Option {
	return func(o *options) error {
		if f == nil {
			return errors.New("factory is nil")
		}
		o.factory = f
		return nil
	}
}

// WithPriorityManager 替换默认的优先级策略（仅服务端使用）
func WithPriorityManager(m priority.Manager) Option {
	return func(o *options) error {
		o.priority = m
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              运行环境
// ════════════════════════════════════════════════════════════════════════════

// WithClock 注入时间源，测试中通常传入 clock.NewMock()
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		o.clock = c
		return nil
	}
}

// WithMetricsRegisterer 指定 Prometheus 注册表，默认 prometheus.DefaultRegisterer
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}
