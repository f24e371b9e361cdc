package cube

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/core/metrics"
	"github.com/dep2p/go-cube/internal/core/priority"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/internal/core/transport"
	"github.com/dep2p/go-cube/internal/protocol/replication"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 配置与注入的运行环境（时钟、loopback 网络、指标注册表）
//  2. Core Layer: Transport → Priority → Metrics
//  3. Protocol Layer: Replication
//
// 服务端与客户端按需构造，targets 决定实际创建哪一个。
func buildFxApp(o *options, cfg *config.Config, targets ...any) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置注入
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(cfg),
	}
	if o.clock != nil {
		clk := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}
	if o.network != nil {
		modules = append(modules, fx.Supply(o.network))
	}
	if o.registerer != nil {
		reg := o.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}
	if o.transportFactory != nil {
		f := o.transportFactory
		modules = append(modules, fx.Provide(fx.Annotate(
			func() pkgif.TransportFactory { return f },
			fx.ResultTags(`name:"transport_override"`),
		)))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 核心模块
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		transport.Module(),
		priority.Module(),
		metrics.Module,
	)
	if o.priority != nil {
		m := o.priority
		modules = append(modules, fx.Decorate(func(priority.Manager) priority.Manager { return m }))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 复制协议
	// ════════════════════════════════════════════════════════════════════════
	if o.factory != nil {
		f := o.factory
		modules = append(modules, fx.Provide(func() replica.Factory { return f }))
	}
	if o.lookup != nil {
		l := o.lookup
		modules = append(modules, fx.Provide(func() replica.TemplateLookup { return l }))
	}
	modules = append(modules,
		replication.Module(),
		fx.Populate(targets...),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return app, nil
}
