package websocket

import "errors"

var (
	// ErrSendQueueFull 连接的发送队列已满
	ErrSendQueueFull = errors.New("send queue full")

	// ErrUnexpectedControl 握手阶段收到意外消息
	ErrUnexpectedControl = errors.New("unexpected control message")
)
