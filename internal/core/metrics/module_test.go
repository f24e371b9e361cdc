package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/pkg/types"
)

// ============================================================================
// Fx 模块测试
// ============================================================================

// TestModule_Provides 测试模块提供的类型
func TestModule_Provides(t *testing.T) {
	reg := prometheus.NewRegistry()

	var reporter Reporter
	var collector *Collector
	app := fxtest.New(t,
		fx.Provide(func() prometheus.Registerer { return reg }),
		Module,
		fx.Populate(&reporter, &collector),
	)
	defer app.RequireStart().RequireStop()

	require.NotNil(t, reporter)
	require.NotNil(t, collector)

	reporter.LogSent(1, types.MessageTypeReplicaUpdate, 100)
	assert.Equal(t, int64(100), reporter.GetBandwidthTotals().TotalOut)

	collector.UpdatesSent.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.UpdatesSent))

	n, err := testutil.GatherAndCount(reg, "cube_replication_updates_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestModule_Disabled 测试禁用时的退化行为
func TestModule_Disabled(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Metrics.Enabled = false

	var reporter Reporter
	var collector *Collector
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&reporter, &collector),
	)
	defer app.RequireStart().RequireStop()

	assert.IsType(t, NopReporter{}, reporter)
	reporter.LogSent(1, types.MessageTypeReplicaUpdate, 100)
	assert.Zero(t, reporter.GetBandwidthTotals().TotalOut)

	// 未注册的指标仍可计数
	collector.Drop(DropUnknownTemplate)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Dropped.WithLabelValues(DropUnknownTemplate)))
}

// TestCollector_RegisterTwice 同一 Registry 上重复创建复用已有指标
func TestCollector_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewCollector("cube", reg)
	b := NewCollector("cube", reg)

	a.RPCsSent.Inc()
	b.RPCsSent.Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.RPCsSent))
	assert.Same(t, a.Dropped, b.Dropped)
}
