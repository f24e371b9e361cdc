package scene

import "errors"

var (
	// ErrDuplicateReplicaID ID 已被另一个副本占用
	ErrDuplicateReplicaID = errors.New("duplicate replica id")

	// ErrInvalidReplicaID 副本没有有效 ID
	ErrInvalidReplicaID = errors.New("invalid replica id")

	// ErrIDSpaceExhausted 没有可分配的动态 ID
	ErrIDSpaceExhausted = errors.New("replica id space exhausted")

	// ErrNotSceneReplica 场景注册时传入了动态副本
	ErrNotSceneReplica = errors.New("not a scene replica")
)
