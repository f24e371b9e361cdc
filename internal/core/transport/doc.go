// Package transport 实现传输层抽象与后端选择
//
// 复制层只依赖 pkg/interfaces 中的 ServerTransport / ClientTransport，
// 具体后端在子包中实现：
//
//   - loopback: 同进程内的客户端与服务端，确定性测试使用
//   - quic: 不可靠等级走 QUIC datagram，可靠等级走单向流
//   - websocket: 所有等级共用一条有序连接
//   - wire: 帧头（可靠性、通道、序号）、序号过滤、接收队列与延迟模拟
//
// # 可靠性等级
//
//	Unreliable          可能丢失、重复、乱序
//	UnreliableSequenced 新消息取代旧消息，不重传
//	ReliableUnordered   重传直到确认
//	ReliableOrdered     通道内按发送顺序投递
//	ReliableSequenced   重传直到确认，仅保留最新
//
// 通道是独立的排序域，不同通道之间没有相对顺序保证。
//
// # 使用示例
//
//	m, err := transport.NewManager(transport.NewConfig(), nil, nil)
//	srv := m.CreateServer()
//	if err := srv.Start(m.Config().Address); err != nil { ... }
//
//	cli := m.CreateClient()
//	cli.Connect(srv.Addr(), hail)
//
//	for {
//	    srv.Update()
//	    cli.Update()
//	}
//
// Update 每个 tick 调用一次，从不阻塞；所有事件在 Update 中同步回调。
package transport
