// Package priority 实现 (副本, 观察者) 的相关性与优先级计算
//
// 默认策略：
//
//	relevance = 1 - d / maxViewDistance    （水平面距离 d；超出范围为 0 并短路）
//	staleness = clamp(elapsed / desiredUpdateInterval, 0, 1)
//	final     = relevance × staleness
//
// 副本设置 FlagIgnorePosition 或 maxViewDistance <= 0 时 relevance 恒为 1。
// 观察者从未收到过该副本时 staleness 为 1。
//
// 调度器只依赖 Manager 接口，策略可替换。
package priority
