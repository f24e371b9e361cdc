package cube

import (
	"github.com/dep2p/go-cube/internal/core/priority"
	"github.com/dep2p/go-cube/internal/core/replica"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              实例状态
// ════════════════════════════════════════════════════════════════════════════

// State 服务端/客户端实例的生命周期状态
type State int

const (
	// StateIdle 已创建，未启动
	StateIdle State = iota

	// StateRunning 运行中
	StateRunning

	// StateClosed 已关闭，不可重新启动
	StateClosed
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              预设
// ════════════════════════════════════════════════════════════════════════════

// 预设名称常量
const (
	// PresetLAN 局域网，高 tick 率，大预算
	PresetLAN = "lan"

	// PresetInternet 公网，较低预算，启用每秒字节上限
	PresetInternet = "internet"

	// PresetTest loopback 后端，无延迟，关闭指标
	PresetTest = "test"
)

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// ReplicaID 副本标识
	ReplicaID = types.ReplicaID

	// ConnectionID 连接标识
	ConnectionID = types.ConnectionID

	// Reliability 可靠性等级
	Reliability = types.Reliability

	// Channel 传输通道（0-31）
	Channel = types.Channel

	// Vec3 世界坐标
	Vec3 = types.Vec3

	// PriorityResult 优先级计算结果
	PriorityResult = types.PriorityResult

	// Replica 可复制对象
	Replica = replica.Replica

	// Settings 副本的优先级参数
	Settings = replica.Settings

	// Component 可序列化的副本组件
	Component = pkgif.Component

	// ComponentFunc 以一对函数实现 Component
	ComponentFunc = pkgif.ComponentFunc

	// RPCHandler 副本 RPC 处理函数
	RPCHandler = replica.RPCHandler

	// Factory 副本工厂
	Factory = replica.Factory

	// FactoryBundle 以函数字段实现 Factory
	FactoryBundle = replica.FactoryBundle

	// TemplateLookup 模板查找
	TemplateLookup = replica.TemplateLookup

	// TemplateMap 以 map 实现 TemplateLookup
	TemplateMap = replica.TemplateMap

	// PriorityManager 优先级策略
	PriorityManager = priority.Manager

	// BitStream 位流
	BitStream = bitstream.BitStream

	// Approval 握手审批结果
	Approval = pkgif.Approval

	// ServerNotifyBundle 服务端连接事件回调
	ServerNotifyBundle = pkgif.ServerNotifyBundle

	// ClientNotifyBundle 客户端连接事件回调
	ClientNotifyBundle = pkgif.ClientNotifyBundle
)

// 可靠性等级
const (
	Unreliable          = types.Unreliable
	UnreliableSequenced = types.UnreliableSequenced
	ReliableUnordered   = types.ReliableUnordered
	ReliableOrdered     = types.ReliableOrdered
	ReliableSequenced   = types.ReliableSequenced
)

// InvalidReplicaID 无效副本 ID
const InvalidReplicaID = types.InvalidReplicaID

// NewReplica 创建动态副本
func NewReplica(template uint16) *Replica { return replica.New(template) }

// NewSceneReplica 创建以场景索引为 ID 的场景副本
func NewSceneReplica(index ReplicaID) *Replica { return replica.NewScene(index) }

// NewTransform 创建位置组件，序列化副本的 X/Y/Z
func NewTransform(r *Replica) Component { return replica.NewTransform(r) }

// NewBitStream 创建容量为 capacity 字节的位流
func NewBitStream(capacity int) *BitStream { return bitstream.New(capacity) }

// Accept 接受握手
func Accept() Approval { return pkgif.Accept() }

// Deny 以 reason 拒绝握手
func Deny(reason string) Approval { return pkgif.Deny(reason) }

// EncodeHail 把结构化字段编码为握手负载
func EncodeHail(fields map[string]any) ([]byte, error) { return types.EncodeHail(fields) }

// DecodeHail 解析 EncodeHail 生成的握手负载
func DecodeHail(data []byte) (map[string]any, error) { return types.DecodeHail(data) }
