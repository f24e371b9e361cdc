// Package metrics 提供复制层的带宽与事件指标
//
// 两类指标：
//   - BandwidthCounter: 按连接、按消息类型统计收发字节，带 60 秒滑动窗口速率
//   - Collector: Prometheus 计数器与仪表（更新、销毁、RPC、丢弃、观察者数）
//
// # 快速开始
//
//	counter := metrics.NewBandwidthCounter(nil)
//
//	// 记录一条发给 conn 的更新消息
//	counter.LogSent(conn, types.MessageTypeReplicaUpdate, 1180)
//
//	stats := counter.GetBandwidthTotals()
//	fmt.Printf("Out: %d, RateOut: %.2f B/s\n", stats.TotalOut, stats.RateOut)
//
//	// 按连接 / 按消息类型
//	counter.GetBandwidthForConnection(conn)
//	counter.GetBandwidthForMessageType(types.MessageTypeReplicaDestroy)
//
// # Prometheus
//
//	c := metrics.NewCollector("cube", prometheus.DefaultRegisterer)
//	c.UpdatesSent.Add(12)
//	c.Dropped.WithLabelValues(metrics.DropUnknownTemplate).Inc()
//
// 传入 nil Registerer 时指标仍可计数，只是不注册到任何 Registry。
//
// # 并发安全
//
// 所有方法都是并发安全的，传输层的读写 goroutine 与 tick 线程可以同时记录。
//
// # 内存管理
//
// 断开的连接会留下统计条目，定期清理：
//
//	counter.TrimIdle(clk.Now().Add(-5 * time.Minute))
package metrics
