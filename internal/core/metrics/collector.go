package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// 丢弃原因标签
const (
	DropMalformed        = "malformed"
	DropUnknownType      = "unknown_type"
	DropUnknownReplica   = "unknown_replica"
	DropUnknownTemplate  = "unknown_template"
	DropUnknownRPC       = "unknown_rpc"
	DropNotOwner         = "not_owner"
	DropDestroyed        = "destroyed"
	DropUnknownConn      = "unknown_connection"
	DropBudgetExhausted  = "budget_exhausted"
	DropBelowMinPriority = "below_min_priority"
	DropLayoutMismatch   = "layout_mismatch"
)

// Collector 复制层 Prometheus 指标
//
// 各字段可直接使用；registerer 为 nil 时不注册。
type Collector struct {
	UpdatesSent     prometheus.Counter
	UpdateMessages  prometheus.Counter
	UpdatesApplied  prometheus.Counter
	DestroysSent    prometheus.Counter
	DestroysApplied prometheus.Counter
	Expired         prometheus.Counter
	TombstonesLost  prometheus.Counter
	RPCsSent        prometheus.Counter
	RPCsReceived    prometheus.Counter
	BytesSent       *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	SendErrors      prometheus.Counter
	Observers       prometheus.Gauge
	Replicas        prometheus.Gauge
	TickDuration    prometheus.Histogram
}

// NewCollector 创建并（可选）注册指标
//
// 同一 Registerer 上重复注册时复用已注册的指标。
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "replication", Name: name, Help: help,
		})
	}

	c := &Collector{
		UpdatesSent:     counter("updates_sent_total", "副本更新条目发送数"),
		UpdateMessages:  counter("update_messages_sent_total", "更新消息发送数"),
		UpdatesApplied:  counter("updates_applied_total", "客户端应用的更新条目数"),
		DestroysSent:    counter("destroys_sent_total", "广播的销毁 ID 数"),
		DestroysApplied: counter("destroys_applied_total", "客户端执行的显式销毁数"),
		Expired:         counter("expired_total", "客户端因不活跃超时销毁的镜像数"),
		TombstonesLost:  counter("tombstones_evicted_total", "容量不足时提前淘汰的墓碑数"),
		RPCsSent:        counter("rpcs_sent_total", "发送的 RPC 数"),
		RPCsReceived:    counter("rpcs_received_total", "调用成功的入站 RPC 数"),
		SendErrors:      counter("send_errors_total", "传输发送失败次数"),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "bytes_sent_total", Help: "按消息类型的发送字节数",
		}, []string{"type"}),
		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "bytes_received_total", Help: "按消息类型的接收字节数",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "replication", Name: "dropped_total", Help: "按原因统计的丢弃数",
		}, []string{"reason"}),
		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "replication", Name: "observers", Help: "当前观察者数",
		}),
		Replicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "replication", Name: "replicas", Help: "注册表中的副本数",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "replication", Name: "tick_seconds", Help: "单次 tick 耗时",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	if reg != nil {
		c.register(reg)
	}
	return c
}

// register 注册全部指标，已注册的同名指标直接复用
func (c *Collector) register(reg prometheus.Registerer) {
	c.UpdatesSent = registerOrReuse(reg, c.UpdatesSent)
	c.UpdateMessages = registerOrReuse(reg, c.UpdateMessages)
	c.UpdatesApplied = registerOrReuse(reg, c.UpdatesApplied)
	c.DestroysSent = registerOrReuse(reg, c.DestroysSent)
	c.DestroysApplied = registerOrReuse(reg, c.DestroysApplied)
	c.Expired = registerOrReuse(reg, c.Expired)
	c.TombstonesLost = registerOrReuse(reg, c.TombstonesLost)
	c.RPCsSent = registerOrReuse(reg, c.RPCsSent)
	c.RPCsReceived = registerOrReuse(reg, c.RPCsReceived)
	c.SendErrors = registerOrReuse(reg, c.SendErrors)
	c.BytesSent = registerOrReuse(reg, c.BytesSent)
	c.BytesReceived = registerOrReuse(reg, c.BytesReceived)
	c.Dropped = registerOrReuse(reg, c.Dropped)
	c.Observers = registerOrReuse(reg, c.Observers)
	c.Replicas = registerOrReuse(reg, c.Replicas)
	c.TickDuration = registerOrReuse(reg, c.TickDuration)
}

func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, col T) T {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		logger.Warn("注册指标失败", "error", err)
	}
	return col
}

// Drop 记录一次丢弃
func (c *Collector) Drop(reason string) {
	c.Dropped.WithLabelValues(reason).Inc()
}
