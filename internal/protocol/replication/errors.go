package replication

import (
	"errors"

	"github.com/dep2p/go-cube/internal/core/replica"
)

var (
	// ErrMalformedMessage 消息被截断或格式错误
	ErrMalformedMessage = errors.New("malformed replication message")

	// ErrUnknownReplica 注册表中没有该副本
	ErrUnknownReplica = errors.New("unknown replica")

	// ErrUnknownTemplate 模板索引无法解析
	ErrUnknownTemplate = replica.ErrUnknownTemplate

	// ErrReplicaTooLarge 单个副本的状态超过一条消息的容量
	ErrReplicaTooLarge = errors.New("replica state exceeds message capacity")

	// ErrArgsTooLarge RPC 参数超过长度前缀上限
	ErrArgsTooLarge = errors.New("rpc arguments too large")

	// ErrNoOwner 副本没有拥有者连接
	ErrNoOwner = errors.New("replica has no owner")

	// ErrNotOwner 调用方不是副本的拥有者
	ErrNotOwner = errors.New("caller does not own replica")

	// ErrNotObserving 连接没有对应的观察者
	ErrNotObserving = errors.New("connection is not observing")
)
