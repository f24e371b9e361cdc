package cube

import (
	"errors"

	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/internal/core/scene"
	"github.com/dep2p/go-cube/internal/protocol/replication"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 服务端未启动
	ErrNotStarted = errors.New("not started")

	// ErrAlreadyStarted 服务端已启动
	ErrAlreadyStarted = errors.New("already started")

	// ErrClosed 实例已关闭
	ErrClosed = errors.New("closed")

	// ErrInvalidConfig 配置校验失败
	ErrInvalidConfig = errors.New("invalid config")

	// ────────────────────────────────────────────────────────────────────────
	// 连接错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrUnknownConnection 连接不存在
	ErrUnknownConnection = pkgif.ErrUnknownConnection

	// ErrNotConnected 客户端未连接
	ErrNotConnected = pkgif.ErrNotConnected

	// ErrConnectionDenied 服务端拒绝握手，原因见 *DeniedError
	ErrConnectionDenied = pkgif.ErrConnectionDenied

	// ────────────────────────────────────────────────────────────────────────
	// 复制错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrOutOfData 位流读取越界
	ErrOutOfData = bitstream.ErrOutOfData

	// ErrMalformedMessage 消息无法解析
	ErrMalformedMessage = replication.ErrMalformedMessage

	// ErrUnknownReplica 副本未登记
	ErrUnknownReplica = replication.ErrUnknownReplica

	// ErrUnknownTemplate 模板索引无法解析
	ErrUnknownTemplate = replica.ErrUnknownTemplate

	// ErrUnknownRPC 副本没有注册该 RPC 方法
	ErrUnknownRPC = replica.ErrUnknownRPC

	// ErrReplicaTooLarge 副本状态超过单条消息容量
	ErrReplicaTooLarge = replication.ErrReplicaTooLarge

	// ErrNoOwner 副本没有拥有者
	ErrNoOwner = replication.ErrNoOwner

	// ErrNotOwner 调用方不是副本的拥有者
	ErrNotOwner = replication.ErrNotOwner

	// ErrDuplicateReplicaID 注册表中已存在该 ID
	ErrDuplicateReplicaID = scene.ErrDuplicateReplicaID
)

// DeniedError 握手被拒绝，携带服务端给出的原因
type DeniedError = pkgif.DeniedError
