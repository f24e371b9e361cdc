package types

import "time"

// SimulatedLag 延迟模拟参数，在接收端生效
//
// 丢包与重复只作用于不可靠等级；有序等级不会被重排。
type SimulatedLag struct {
	// Enabled 是否启用
	Enabled bool
	// MinLatency 最小单向延迟
	MinLatency time.Duration
	// MaxLatency 最大单向延迟
	MaxLatency time.Duration
	// LossRate 丢包率 [0,1]
	LossRate float64
	// DuplicateRate 重复率 [0,1]
	DuplicateRate float64
}

// NoLag 不模拟延迟
func NoLag() SimulatedLag {
	return SimulatedLag{}
}

// Active 是否真正需要模拟
func (l SimulatedLag) Active() bool {
	return l.Enabled && (l.MaxLatency > 0 || l.MinLatency > 0 || l.LossRate > 0 || l.DuplicateRate > 0)
}
