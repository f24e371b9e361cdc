package scene

import (
	"fmt"
	"sort"

	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/pkg/types"
)

// idSpace 可分配的 ID 数（不含 InvalidReplicaID）
const idSpace = int(types.InvalidReplicaID)

// Scene 副本注册表
type Scene struct {
	replicas map[types.ReplicaID]*replica.Replica

	// next 下一次分配的起点，循环前进，刚释放的 ID 不会立即被复用
	next types.ReplicaID

	sorted []types.ReplicaID
	dirty  bool
}

// New 创建空注册表
func New() *Scene {
	return &Scene{replicas: make(map[types.ReplicaID]*replica.Replica)}
}

// Allocate 返回一个未被占用的动态 ID
func (s *Scene) Allocate() (types.ReplicaID, error) {
	if len(s.replicas) >= idSpace {
		return types.InvalidReplicaID, ErrIDSpaceExhausted
	}
	for i := 0; i < idSpace; i++ {
		id := s.next
		s.next++
		if s.next == types.InvalidReplicaID {
			s.next = 0
		}
		if _, used := s.replicas[id]; !used {
			return id, nil
		}
	}
	return types.InvalidReplicaID, ErrIDSpaceExhausted
}

// Add 登记副本并封存其组件列表
func (s *Scene) Add(r *replica.Replica) error {
	id := r.ID()
	if !id.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidReplicaID, r)
	}
	if existing, ok := s.replicas[id]; ok {
		return fmt.Errorf("%w: %s already held by %s", ErrDuplicateReplicaID, id, existing)
	}
	r.Seal()
	s.replicas[id] = r
	s.dirty = true
	return nil
}

// MustAdd 登记副本，失败即 panic
//
// 用于 ID 由本端保证唯一的路径，冲突意味着编程错误。
func (s *Scene) MustAdd(r *replica.Replica) {
	if err := s.Add(r); err != nil {
		panic(err)
	}
}

// AddScene 登记一组场景预置副本
//
// 全部检查通过后才登记，任何一个失败都不修改注册表。
func (s *Scene) AddScene(rs []*replica.Replica) error {
	seen := make(map[types.ReplicaID]struct{}, len(rs))
	for _, r := range rs {
		if !r.IsSceneReplica() {
			return fmt.Errorf("%w: %s", ErrNotSceneReplica, r)
		}
		id := r.ID()
		if !id.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidReplicaID, r)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: scene index %s repeated", ErrDuplicateReplicaID, id)
		}
		if _, used := s.replicas[id]; used {
			return fmt.Errorf("%w: %s", ErrDuplicateReplicaID, id)
		}
		seen[id] = struct{}{}
	}
	for _, r := range rs {
		s.MustAdd(r)
	}
	return nil
}

// Remove 删除并返回副本
func (s *Scene) Remove(id types.ReplicaID) (*replica.Replica, bool) {
	r, ok := s.replicas[id]
	if !ok {
		return nil, false
	}
	delete(s.replicas, id)
	s.dirty = true
	return r, true
}

// Get 按 ID 查找
func (s *Scene) Get(id types.ReplicaID) (*replica.Replica, bool) {
	r, ok := s.replicas[id]
	return r, ok
}

// Contains 是否已登记
func (s *Scene) Contains(id types.ReplicaID) bool {
	_, ok := s.replicas[id]
	return ok
}

// Len 副本数
func (s *Scene) Len() int {
	return len(s.replicas)
}

// IDs 返回按 ID 升序的全部 ID
//
// 返回的切片在下一次修改前有效，调用方不得修改。
func (s *Scene) IDs() []types.ReplicaID {
	if s.dirty || len(s.sorted) != len(s.replicas) {
		s.sorted = s.sorted[:0]
		for id := range s.replicas {
			s.sorted = append(s.sorted, id)
		}
		sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i] < s.sorted[j] })
		s.dirty = false
	}
	return s.sorted
}

// Replicas 返回按 ID 升序的全部副本
func (s *Scene) Replicas() []*replica.Replica {
	ids := s.IDs()
	out := make([]*replica.Replica, len(ids))
	for i, id := range ids {
		out[i] = s.replicas[id]
	}
	return out
}

// Range 按 ID 升序遍历，fn 返回 false 时停止
//
// 遍历期间允许删除副本。
func (s *Scene) Range(fn func(r *replica.Replica) bool) {
	ids := append([]types.ReplicaID(nil), s.IDs()...)
	for _, id := range ids {
		r, ok := s.replicas[id]
		if !ok {
			continue
		}
		if !fn(r) {
			return
		}
	}
}

// Clear 删除全部副本并返回它们（按 ID 升序）
func (s *Scene) Clear() []*replica.Replica {
	out := s.Replicas()
	s.replicas = make(map[types.ReplicaID]*replica.Replica)
	s.sorted = nil
	s.dirty = false
	return out
}
