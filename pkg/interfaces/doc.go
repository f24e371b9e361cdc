// Package interfaces 定义 Cube 的公共接口
//
//   - transport.go - 传输层契约（服务端/客户端对端、工厂、通知、握手审批）
//   - component.go - 副本状态组件契约
//
// # 依赖方向
//
//	facade → protocol (reactor, replication) → core (transport, scene, priority) → pkg
//
// 禁止反向依赖。
package interfaces
