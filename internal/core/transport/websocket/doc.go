// Package websocket 实现基于 WebSocket 的传输后端
//
// 所有可靠性等级共用一条有序 TCP 连接，每条二进制消息都带 wire 帧头，
// 接收端据此恢复等级与通道，并对有序等级做序号过滤。
//
// 握手：客户端的第一条消息是 hail；服务端回复 ConnectionRequestAccepted
// 或 ConnectionRequestFailed。拒绝时原因先以普通消息送达，
// 随后用 ClosePolicyViolation 关闭帧结束连接。
package websocket
