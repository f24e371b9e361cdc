package priority

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/pkg/types"
)

// View 观察者在优先级计算中可见的部分
type View interface {
	// Position 观察者位置
	Position() types.Vec3

	// LastSent 该观察者最近一次收到 id 状态的时间
	LastSent(id types.ReplicaID) (time.Time, bool)
}

// Manager 优先级策略
type Manager interface {
	GetPriority(r *replica.Replica, v View) types.PriorityResult
}

// ManagerFunc 以函数实现 Manager
type ManagerFunc func(r *replica.Replica, v View) types.PriorityResult

// GetPriority 调用函数本身
func (f ManagerFunc) GetPriority(r *replica.Replica, v View) types.PriorityResult {
	return f(r, v)
}

// DefaultManager 距离相关性 × 过期程度
type DefaultManager struct {
	clock clock.Clock
}

var _ Manager = (*DefaultManager)(nil)

// NewDefaultManager 创建默认策略，clk 为 nil 时使用真实时间
func NewDefaultManager(clk clock.Clock) *DefaultManager {
	if clk == nil {
		clk = clock.New()
	}
	return &DefaultManager{clock: clk}
}

// GetPriority 实现 Manager
func (m *DefaultManager) GetPriority(r *replica.Replica, v View) types.PriorityResult {
	rel := Relevance(r, v.Position())
	if rel <= 0 {
		return types.PriorityResult{}
	}

	stale := float32(1)
	if last, ok := v.LastSent(r.ID()); ok {
		stale = Staleness(m.clock.Now().Sub(last), r.Settings().DesiredUpdateInterval)
	}
	return types.PriorityResult{Relevance: rel, Final: rel * stale}
}

// Relevance 水平面距离相关性 [0,1]
func Relevance(r *replica.Replica, observer types.Vec3) float32 {
	s := r.Settings()
	if s.IgnorePosition() || s.MaxViewDistance <= 0 {
		return 1
	}
	d := r.Position().PlanarDistance(observer)
	if d >= s.MaxViewDistance {
		return 0
	}
	return 1 - d/s.MaxViewDistance
}

// Staleness elapsed / interval，截断到 [0,1]
func Staleness(elapsed, interval time.Duration) float32 {
	if interval <= 0 || elapsed >= interval {
		return 1
	}
	if elapsed <= 0 {
		return 0
	}
	return float32(float64(elapsed) / float64(interval))
}
