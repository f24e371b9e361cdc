package replica

import "errors"

var (
	// ErrComponentsSealed 副本已注册，组件列表不可再修改
	ErrComponentsSealed = errors.New("replica components sealed")

	// ErrNilComponent 组件为 nil
	ErrNilComponent = errors.New("nil component")

	// ErrUnknownRPC 副本上没有该方法
	ErrUnknownRPC = errors.New("unknown rpc method")

	// ErrInvalidRPC 方法注册参数无效
	ErrInvalidRPC = errors.New("invalid rpc registration")

	// ErrUnknownTemplate 模板索引无法解析
	ErrUnknownTemplate = errors.New("unknown template index")
)
