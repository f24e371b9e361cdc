// Package scene 实现副本注册表（网络场景）
//
// Scene 是 ID → 副本的唯一权威映射，两端共用同一形态：
//
//	s := scene.New()
//	id, err := s.Allocate()   // 服务端：分配动态 ID
//	r.AssignID(id)
//	err = s.Add(r)            // 登记并封存组件列表
//
//	r, ok := s.Get(id)
//	s.Remove(id)
//
// 不变量：
//   - 任意时刻一个 ID 至多对应一个副本
//   - 登记要么完整成功，要么不产生任何修改
//   - InvalidReplicaID 永远不会被登记或分配
//
// 非并发安全，由所属一侧的 tick 线程独占。
package scene
