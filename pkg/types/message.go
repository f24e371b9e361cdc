package types

import "strconv"

// ============================================================================
//                              MessageType - 消息类型
// ============================================================================

// MessageType 消息首字节，决定反应器的分发目标
type MessageType uint8

const (
	// MessageTypeInvalid 保留值
	MessageTypeInvalid MessageType = iota
	// MessageTypeConnectionRequestAccepted 连接请求被接受（携带会话 ID）
	MessageTypeConnectionRequestAccepted
	// MessageTypeConnectionRequestFailed 连接请求被拒绝（携带原因）
	MessageTypeConnectionRequestFailed
	// MessageTypeReplicaUpdate 副本状态更新
	MessageTypeReplicaUpdate
	// MessageTypeReplicaDestroy 副本批量销毁
	MessageTypeReplicaDestroy
	// MessageTypeReplicaRpc 副本 RPC 调用
	MessageTypeReplicaRpc
	// MessageTypeConnectionHail 客户端握手 hail
	MessageTypeConnectionHail
)

// MessageTypeFirstUser 应用自定义消息类型的起始值
const MessageTypeFirstUser MessageType = 64

// String 返回消息类型的字符串表示
func (m MessageType) String() string {
	switch m {
	case MessageTypeConnectionRequestAccepted:
		return "ConnectionRequestAccepted"
	case MessageTypeConnectionRequestFailed:
		return "ConnectionRequestFailed"
	case MessageTypeReplicaUpdate:
		return "ReplicaUpdate"
	case MessageTypeReplicaDestroy:
		return "ReplicaDestroy"
	case MessageTypeReplicaRpc:
		return "ReplicaRpc"
	case MessageTypeConnectionHail:
		return "ConnectionHail"
	default:
		if m >= MessageTypeFirstUser {
			return "User(" + strconv.Itoa(int(m)) + ")"
		}
		return "Unknown(" + strconv.Itoa(int(m)) + ")"
	}
}
