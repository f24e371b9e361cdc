package types

import (
	"strconv"
)

// ============================================================================
//                              ReplicaID - 副本标识
// ============================================================================

// ReplicaID 副本唯一标识符
//
// 场景副本使用固定的场景索引作为 ID，动态副本由服务器在创建时分配。
// 在注册表中任意时刻唯一，副本存活期间不会被复用。
type ReplicaID uint16

// InvalidReplicaID 无效副本 ID，永远不会分配给真实副本
const InvalidReplicaID ReplicaID = 0xFFFF

// ReplicaIDBits ReplicaID 在线路上占用的位数
const ReplicaIDBits = 16

// IsValid 检查 ID 是否有效
func (id ReplicaID) IsValid() bool {
	return id != InvalidReplicaID
}

// String 返回 ID 的字符串表示
func (id ReplicaID) String() string {
	if !id.IsValid() {
		return "invalid"
	}
	return strconv.FormatUint(uint64(id), 10)
}

// ============================================================================
//                              ConnectionID - 连接标识
// ============================================================================

// ConnectionID 对端连接标识
//
// 在对端会话期间稳定，用于单播发送和观察者索引。
// 零值保留为无效值，不会分配给真实对端。
type ConnectionID uint64

// InvalidConnectionID 无效连接 ID
const InvalidConnectionID ConnectionID = 0

// IsValid 检查连接 ID 是否有效
func (c ConnectionID) IsValid() bool {
	return c != InvalidConnectionID
}

// String 返回连接 ID 的字符串表示
func (c ConnectionID) String() string {
	if !c.IsValid() {
		return "conn-invalid"
	}
	return "conn-" + strconv.FormatUint(uint64(c), 10)
}
