// Package reactor 按消息类型分发入站消息
//
// 每条消息的首字节是 types.MessageType。Update 排空传输当前可用的全部消息，
// 对每条消息读出类型字节，然后按注册顺序调用该类型的全部处理器。
// 每个处理器开始时读游标都恢复到类型字节之后，互不影响。
//
//	r := reactor.NewClient(transport)
//	r.AddHandler(types.MessageTypeReplicaUpdate, func(msg *bitstream.BitStream) error {
//	    ...
//	})
//
//	// 每个 tick
//	transport.Update()
//	r.Update()
//
// 未知消息类型记录日志后丢弃；处理器返回的错误只影响当前消息。
// 服务端反应器额外把发送方连接传给处理器。
package reactor
