package types

// ============================================================================
//                              Reliability - 可靠性等级
// ============================================================================

// Reliability 投递可靠性等级，按投递保证递增排列
type Reliability uint8

const (
	// Unreliable 不可靠，可能丢失、重复、乱序
	Unreliable Reliability = iota
	// UnreliableSequenced 不可靠有序，新消息取代旧消息，不重传
	UnreliableSequenced
	// ReliableUnordered 可靠无序，重传直到确认
	ReliableUnordered
	// ReliableOrdered 可靠有序
	ReliableOrdered
	// ReliableSequenced 可靠，重传直到确认，仅保留最新
	ReliableSequenced
)

// ReliabilityBits Reliability 在帧头中占用的位数
const ReliabilityBits = 3

// String 返回可靠性等级的字符串表示
func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableSequenced:
		return "reliable-sequenced"
	default:
		return "unknown"
	}
}

// IsValid 检查是否为已定义的等级
func (r Reliability) IsValid() bool {
	return r <= ReliableSequenced
}

// IsReliable 是否保证投递
func (r Reliability) IsReliable() bool {
	return r >= ReliableUnordered && r.IsValid()
}

// IsSequenced 是否丢弃比已收到消息更旧的消息
func (r Reliability) IsSequenced() bool {
	return r == UnreliableSequenced || r == ReliableSequenced
}

// IsOrdered 是否要求按发送顺序投递
func (r Reliability) IsOrdered() bool {
	return r == ReliableOrdered || r == ReliableSequenced
}

// ============================================================================
//                              通道
// ============================================================================

// Channel 独立的排序域，不同通道之间没有相对顺序保证
type Channel uint8

// ChannelBits 通道号在帧头中占用的位数
const ChannelBits = 5

// MaxChannels 每个连接可用的通道数
const MaxChannels = 1 << ChannelBits

// IsValid 检查通道号是否在范围内
func (c Channel) IsValid() bool {
	return int(c) < MaxChannels
}
