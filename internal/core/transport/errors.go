package transport

import "errors"

var (
	// ErrUnknownBackend 未知的传输后端名称
	ErrUnknownBackend = errors.New("unknown transport backend")

	// ErrManagerClosed 管理器已关闭，不再创建对端
	ErrManagerClosed = errors.New("transport manager closed")
)
