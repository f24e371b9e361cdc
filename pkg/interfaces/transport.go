package interfaces

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-cube/pkg/types"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrUnknownConnection 目标连接不存在或已断开
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrNotConnected 客户端尚未建立连接
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected 客户端已连接或正在连接
	ErrAlreadyConnected = errors.New("already connected")

	// ErrInvalidReliability 无效的可靠性等级
	ErrInvalidReliability = errors.New("invalid reliability")

	// ErrInvalidChannel 通道号越界
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("transport closed")

	// ErrConnectionDenied 服务端拒绝了连接请求
	ErrConnectionDenied = errors.New("connection denied")
)

// DeniedError 携带服务端给出的拒绝原因
type DeniedError struct {
	Reason string
}

// Error 实现 error 接口
func (e *DeniedError) Error() string {
	return fmt.Sprintf("connection denied: %s", e.Reason)
}

// Is 使 errors.Is(err, ErrConnectionDenied) 成立
func (e *DeniedError) Is(target error) bool {
	return target == ErrConnectionDenied
}

// ============================================================================
//                              数据包
// ============================================================================

// Packet 接收到的数据包
type Packet struct {
	// Connection 发送方连接（客户端侧为 InvalidConnectionID）
	Connection types.ConnectionID
	// Data 消息内容，首字节为 MessageType
	Data []byte
	// Reliability 发送时使用的可靠性等级
	Reliability types.Reliability
	// Channel 发送时使用的通道
	Channel types.Channel
}

// PacketSource 可被反应器排空的入站队列
type PacketSource interface {
	// Receive 非阻塞地取出下一个数据包，没有数据时返回 false
	Receive() (Packet, bool)
}

// ============================================================================
//                              握手审批
// ============================================================================

// Approval 审批结果
type Approval struct {
	Accepted bool
	// Reason 拒绝原因，会在断开前送达对端
	Reason string
}

// Accept 接受连接
func Accept() Approval {
	return Approval{Accepted: true}
}

// Deny 拒绝连接
func Deny(reason string) Approval {
	return Approval{Reason: reason}
}

// ApproveFunc 检查客户端 hail 负载并决定是否接受连接
type ApproveFunc func(conn types.ConnectionID, hail []byte) Approval

// ============================================================================
//                              通知
// ============================================================================

// ServerNotifiee 服务端连接事件接收者
//
// 所有回调都在 ServerTransport.Update() 中同步触发。
type ServerNotifiee interface {
	Connected(conn types.ConnectionID)
	Disconnected(conn types.ConnectionID, reason string)
	NetworkError(err error)
}

// ClientNotifiee 客户端连接事件接收者
//
// 所有回调都在 ClientTransport.Update() 中同步触发。
type ClientNotifiee interface {
	Connected(session string)
	Disconnected(reason string)
	NetworkError(err error)
}

// ServerNotifyBundle 以函数字段实现 ServerNotifiee，未设置的字段忽略
type ServerNotifyBundle struct {
	ConnectedF    func(conn types.ConnectionID)
	DisconnectedF func(conn types.ConnectionID, reason string)
	NetworkErrorF func(err error)
}

var _ ServerNotifiee = (*ServerNotifyBundle)(nil)

// Connected 调用 ConnectedF
func (b *ServerNotifyBundle) Connected(conn types.ConnectionID) {
	if b.ConnectedF != nil {
		b.ConnectedF(conn)
	}
}

// Disconnected 调用 DisconnectedF
func (b *ServerNotifyBundle) Disconnected(conn types.ConnectionID, reason string) {
	if b.DisconnectedF != nil {
		b.DisconnectedF(conn, reason)
	}
}

// NetworkError 调用 NetworkErrorF
func (b *ServerNotifyBundle) NetworkError(err error) {
	if b.NetworkErrorF != nil {
		b.NetworkErrorF(err)
	}
}

// ClientNotifyBundle 以函数字段实现 ClientNotifiee，未设置的字段忽略
type ClientNotifyBundle struct {
	ConnectedF    func(session string)
	DisconnectedF func(reason string)
	NetworkErrorF func(err error)
}

var _ ClientNotifiee = (*ClientNotifyBundle)(nil)

// Connected 调用 ConnectedF
func (b *ClientNotifyBundle) Connected(session string) {
	if b.ConnectedF != nil {
		b.ConnectedF(session)
	}
}

// Disconnected 调用 DisconnectedF
func (b *ClientNotifyBundle) Disconnected(reason string) {
	if b.DisconnectedF != nil {
		b.DisconnectedF(reason)
	}
}

// NetworkError 调用 NetworkErrorF
func (b *ClientNotifyBundle) NetworkError(err error) {
	if b.NetworkErrorF != nil {
		b.NetworkErrorF(err)
	}
}

// ============================================================================
//                              传输契约
// ============================================================================

// ServerTransport 服务端对端
//
// Update 每个 tick 调用一次，从不阻塞：泵送排队的 I/O，
// 触发连接事件，并让到期的数据包可被 Receive 取出。
type ServerTransport interface {
	PacketSource

	// Start 在 address 上开始接受连接
	Start(address string) error

	// Shutdown 断开所有连接并停止监听
	Shutdown(reason string) error

	// Update 泵送 I/O，非阻塞
	Update()

	// Send 单播
	Send(conn types.ConnectionID, data []byte, rel types.Reliability, ch types.Channel) error

	// Broadcast 发送给所有已建立的连接
	Broadcast(data []byte, rel types.Reliability, ch types.Channel) error

	// Disconnect 断开指定连接，reason 会尽量送达对端
	Disconnect(conn types.ConnectionID, reason string) error

	// Connections 返回已建立的连接（按 ID 升序）
	Connections() []types.ConnectionID

	// Addr 返回实际监听地址
	Addr() string

	// SetApprover 设置握手审批回调，nil 表示全部接受
	SetApprover(fn ApproveFunc)

	// SetNotifiee 设置连接事件接收者
	SetNotifiee(n ServerNotifiee)
}

// ClientTransport 客户端对端
type ClientTransport interface {
	PacketSource

	// Connect 发起连接，hail 负载交由服务端审批
	//
	// 结果通过 ClientNotifiee 在后续 Update 中通知。
	Connect(address string, hail []byte) error

	// Disconnect 主动断开
	Disconnect(reason string) error

	// Update 泵送 I/O，非阻塞
	Update()

	// Send 发送给服务端
	Send(data []byte, rel types.Reliability, ch types.Channel) error

	// IsConnected 握手是否已完成
	IsConnected() bool

	// SetNotifiee 设置连接事件接收者
	SetNotifiee(n ClientNotifiee)
}

// TransportFactory 创建对端实例，具体后端实现该接口
type TransportFactory interface {
	// Name 后端名称（loopback/quic/websocket）
	Name() string

	// CreateClient 创建客户端对端
	CreateClient() ClientTransport

	// CreateServer 创建服务端对端，maxClients <= 0 表示不限
	CreateServer(maxClients int, lag types.SimulatedLag) ServerTransport
}
