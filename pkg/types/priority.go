package types

import "math"

// PriorityResult 单次调度中 (副本, 观察者) 的优先级计算结果，不持久化
type PriorityResult struct {
	// Relevance 相关性 [0,1]
	Relevance float32
	// Final 最终优先级 [0,1]
	Final float32
}

// Vec3 三维坐标
type Vec3 struct {
	X, Y, Z float32
}

// PlanarDistance 返回水平面 (X/Z) 上的距离
func (v Vec3) PlanarDistance(o Vec3) float32 {
	dx := float64(v.X - o.X)
	dz := float64(v.Z - o.Z)
	return float32(math.Sqrt(dx*dx + dz*dz))
}
