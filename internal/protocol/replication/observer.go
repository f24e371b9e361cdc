package replication

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-cube/internal/core/priority"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/pkg/types"
)

// Observer 一个客户端在服务端的订阅范围
//
// 记录每个副本最近一次发给该客户端的时间，以及最近一轮调度的优先级结果。
type Observer struct {
	conn     types.ConnectionID
	position types.Vec3
	focus    *replica.Replica

	lastSent   map[types.ReplicaID]time.Time
	priorities map[types.ReplicaID]types.PriorityResult

	limiter *rate.Limiter
}

var _ priority.View = (*Observer)(nil)

func newObserver(conn types.ConnectionID, limiter *rate.Limiter) *Observer {
	return &Observer{
		conn:       conn,
		lastSent:   make(map[types.ReplicaID]time.Time),
		priorities: make(map[types.ReplicaID]types.PriorityResult),
		limiter:    limiter,
	}
}

// Connection 观察者对应的连接
func (o *Observer) Connection() types.ConnectionID {
	return o.conn
}

// Position 观察位置，设置了跟随副本时取该副本的位置
func (o *Observer) Position() types.Vec3 {
	if o.focus != nil {
		return o.focus.Position()
	}
	return o.position
}

// SetPosition 设置观察位置并取消跟随
func (o *Observer) SetPosition(p types.Vec3) {
	o.position = p
	o.focus = nil
}

// Follow 观察位置跟随副本，nil 取消跟随
func (o *Observer) Follow(r *replica.Replica) {
	o.focus = r
}

// LastSent 实现 priority.View
func (o *Observer) LastSent(id types.ReplicaID) (time.Time, bool) {
	t, ok := o.lastSent[id]
	return t, ok
}

// Priority 最近一轮调度中 id 的优先级
func (o *Observer) Priority(id types.ReplicaID) (types.PriorityResult, bool) {
	p, ok := o.priorities[id]
	return p, ok
}

func (o *Observer) markSent(id types.ReplicaID, now time.Time) {
	o.lastSent[id] = now
}

// forget 副本销毁后清除簿记
func (o *Observer) forget(id types.ReplicaID) {
	delete(o.lastSent, id)
	delete(o.priorities, id)
	if o.focus != nil && o.focus.ID() == id {
		o.position = o.focus.Position()
		o.focus = nil
	}
}
