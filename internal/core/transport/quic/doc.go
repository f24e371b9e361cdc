// Package quic 实现基于 QUIC 的传输后端
//
// 可靠性等级到 QUIC 原语的映射：
//
//   - Unreliable / UnreliableSequenced：DATAGRAM 帧，超出单个数据报上限时
//     退化为一次性单向流
//   - ReliableUnordered：每条消息一个单向流，彼此独立
//   - ReliableOrdered / ReliableSequenced：每个 (等级, 通道) 一个长期单向流
//
// 所有消息都带 wire 帧头；流上的帧使用 varint 长度前缀。
//
// # 握手
//
// 客户端拨号后打开一个双向控制流并写入 hail。服务端在 Update 中调用
// 审批回调，通过控制流回复 ConnectionRequestAccepted（携带会话 ID）
// 或 ConnectionRequestFailed（携带原因）。拒绝时服务端先写出原因，
// 等待客户端关闭连接或超时后再关闭。
//
// # 线程模型
//
// 每个连接有一个写 goroutine 和若干读 goroutine（由 errgroup 管理）。
// 读到的数据包进入 wire.Inbox，Update/Receive 在 tick 线程上取出。
package quic
