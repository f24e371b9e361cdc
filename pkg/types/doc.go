// Package types 定义 Cube 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 cube 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go         - ReplicaID, ConnectionID
//   - reliability.go - Reliability 可靠性等级, 通道常量
//   - message.go     - MessageType 消息类型
//   - priority.go    - PriorityResult, Vec3
//   - lag.go         - SimulatedLag 延迟模拟参数
//   - hail.go        - 握手 hail 负载编解码
package types
