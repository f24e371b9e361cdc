package quic

import "errors"

var (
	// ErrSendQueueFull 连接的发送队列已满
	ErrSendQueueFull = errors.New("send queue full")

	// ErrFrameTooLarge 帧超过上限
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrUnexpectedControl 控制流上收到意外消息
	ErrUnexpectedControl = errors.New("unexpected control message")

	// ErrNoCertificate 无法生成证书
	ErrNoCertificate = errors.New("no TLS certificate available")
)
