package replica

import (
	"fmt"
	"time"

	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

// ============================================================================
//                              配置
// ============================================================================

// PriorityFlags 优先级计算标志
type PriorityFlags uint8

const (
	// FlagIgnorePosition 不参与距离相关性，始终视为完全相关
	FlagIgnorePosition PriorityFlags = 1 << iota
)

// Settings 单个副本的复制参数
type Settings struct {
	// MaxViewDistance 最大可视距离（水平面），<= 0 表示不限
	MaxViewDistance float32

	// DesiredUpdateInterval 期望的更新间隔，<= 0 表示每 tick 都视为过期
	DesiredUpdateInterval time.Duration

	// Flags 优先级标志
	Flags PriorityFlags
}

// IgnorePosition 是否跳过距离相关性
func (s Settings) IgnorePosition() bool {
	return s.Flags&FlagIgnorePosition != 0
}

// DefaultSettings 返回默认参数
func DefaultSettings() Settings {
	return Settings{
		MaxViewDistance:       100,
		DesiredUpdateInterval: 100 * time.Millisecond,
	}
}

// ============================================================================
//                              Replica
// ============================================================================

// Replica 被复制的对象
//
// 组件列表在首次注册到场景时封存，之后的顺序即线路顺序，两端必须一致。
// 非并发安全，只能由所属一侧的 tick 线程修改。
type Replica struct {
	id       types.ReplicaID
	scene    bool
	template uint16

	owned bool               // 客户端：本端是否拥有输入权
	owner types.ConnectionID // 服务端：拥有者连接

	position types.Vec3
	settings Settings

	components []Component
	sealed     bool

	rpcs map[uint8]RPCHandler

	// Handle 引擎侧对象句柄，核心不解释
	Handle any
}

// New 创建动态副本，template 为预制体索引
func New(template uint16) *Replica {
	return &Replica{
		id:       types.InvalidReplicaID,
		template: template,
		settings: DefaultSettings(),
	}
}

// NewScene 创建场景副本，场景索引即 ID
func NewScene(index types.ReplicaID) *Replica {
	return &Replica{
		id:       index,
		scene:    true,
		settings: DefaultSettings(),
	}
}

// ID 返回副本 ID，未注册的动态副本为 InvalidReplicaID
func (r *Replica) ID() types.ReplicaID { return r.id }

// AssignID 设置 ID，仅由注册表在登记前调用
func (r *Replica) AssignID(id types.ReplicaID) { r.id = id }

// IsSceneReplica 是否为场景预置副本
func (r *Replica) IsSceneReplica() bool { return r.scene }

// TemplateIndex 预制体索引（场景副本无意义）
func (r *Replica) TemplateIndex() uint16 { return r.template }

// IsOwner 客户端：本端是否为拥有者
func (r *Replica) IsOwner() bool { return r.owned }

// SetOwned 客户端：设置拥有者标志
func (r *Replica) SetOwned(owned bool) { r.owned = owned }

// Owner 服务端：拥有者连接，没有拥有者时为 InvalidConnectionID
func (r *Replica) Owner() types.ConnectionID { return r.owner }

// SetOwner 服务端：设置拥有者连接
func (r *Replica) SetOwner(conn types.ConnectionID) { r.owner = conn }

// Position 当前位置
func (r *Replica) Position() types.Vec3 { return r.position }

// SetPosition 设置位置
func (r *Replica) SetPosition(p types.Vec3) { r.position = p }

// Settings 返回复制参数
func (r *Replica) Settings() Settings { return r.settings }

// SetSettings 设置复制参数
func (r *Replica) SetSettings(s Settings) { r.settings = s }

// String 返回调试表示
func (r *Replica) String() string {
	if r.scene {
		return fmt.Sprintf("replica(%s scene)", r.id)
	}
	return fmt.Sprintf("replica(%s tpl=%d)", r.id, r.template)
}

// ============================================================================
//                              组件
// ============================================================================

// AddComponent 追加状态组件，封存后返回 ErrComponentsSealed
func (r *Replica) AddComponent(c Component) error {
	if r.sealed {
		return ErrComponentsSealed
	}
	if c == nil {
		return ErrNilComponent
	}
	r.components = append(r.components, c)
	return nil
}

// Components 返回组件列表（只读）
func (r *Replica) Components() []Component {
	return r.components
}

// Seal 封存组件列表
func (r *Replica) Seal() { r.sealed = true }

// Sealed 组件列表是否已封存
func (r *Replica) Sealed() bool { return r.sealed }

// Serialize 按注册顺序写出全部组件状态
func (r *Replica) Serialize(s *bitstream.BitStream) error {
	for i, c := range r.components {
		if err := c.Serialize(s); err != nil {
			return fmt.Errorf("%s component %d: %w", r, i, err)
		}
	}
	return nil
}

// Deserialize 按注册顺序读入全部组件状态
func (r *Replica) Deserialize(s *bitstream.BitStream) error {
	for i, c := range r.components {
		if err := c.Deserialize(s); err != nil {
			return fmt.Errorf("%s component %d: %w", r, i, err)
		}
	}
	return nil
}

// ============================================================================
//                              RPC
// ============================================================================

// RPCHandler RPC 目标
//
// from 为调用方连接（客户端侧为 InvalidConnectionID），args 为参数位流。
type RPCHandler func(from types.ConnectionID, args *bitstream.BitStream) error

// RegisterRPC 注册方法号对应的处理器
func (r *Replica) RegisterRPC(method uint8, h RPCHandler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler for method %d", ErrInvalidRPC, method)
	}
	if r.rpcs == nil {
		r.rpcs = make(map[uint8]RPCHandler)
	}
	if _, ok := r.rpcs[method]; ok {
		return fmt.Errorf("%w: method %d already registered", ErrInvalidRPC, method)
	}
	r.rpcs[method] = h
	return nil
}

// HasRPC 是否注册了方法
func (r *Replica) HasRPC(method uint8) bool {
	_, ok := r.rpcs[method]
	return ok
}

// InvokeRPC 在本地调用方法
func (r *Replica) InvokeRPC(method uint8, from types.ConnectionID, args *bitstream.BitStream) error {
	h, ok := r.rpcs[method]
	if !ok {
		return fmt.Errorf("%w: %s method %d", ErrUnknownRPC, r, method)
	}
	if args == nil {
		args = bitstream.New(0)
	}
	return h(from, args)
}
