// Package wire 提供各传输后端共享的帧格式与接收端机制
//
//   - frame.go    - 帧头（可靠性 3 位、通道 5 位、有序等级附带 16 位序号）
//   - sequence.go - 发送端序号分配与接收端过期丢弃
//   - inbox.go    - 线程安全的入站队列（连接事件 + 数据包），含延迟模拟
//
// 网络 goroutine 向 Inbox 推送，tick 线程在 Update 中非阻塞地排空。
package wire
