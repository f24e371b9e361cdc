package metrics

import (
	"time"

	"github.com/dep2p/go-cube/pkg/types"
)

// Reporter 提供记录和检索带宽指标的方法
type Reporter interface {
	// LogSent 记录发送消息大小
	LogSent(conn types.ConnectionID, t types.MessageType, size int64)

	// LogRecv 记录接收消息大小
	LogRecv(conn types.ConnectionID, t types.MessageType, size int64)

	// GetBandwidthTotals 获取总带宽统计
	GetBandwidthTotals() Stats

	// GetBandwidthForConnection 获取连接带宽统计
	GetBandwidthForConnection(types.ConnectionID) Stats

	// GetBandwidthForMessageType 获取消息类型带宽统计
	GetBandwidthForMessageType(types.MessageType) Stats

	// GetBandwidthByConnection 获取所有连接带宽统计
	GetBandwidthByConnection() map[types.ConnectionID]Stats

	// GetBandwidthByMessageType 获取所有消息类型带宽统计
	GetBandwidthByMessageType() map[types.MessageType]Stats

	// ForgetConnection 删除断开连接的统计
	ForgetConnection(types.ConnectionID)

	// Reset 重置所有统计
	Reset()

	// TrimIdle 清理空闲统计
	TrimIdle(since time.Time)
}

// 确保 BandwidthCounter 实现 Reporter 接口
var _ Reporter = (*BandwidthCounter)(nil)

// NopReporter 丢弃所有记录
type NopReporter struct{}

var _ Reporter = NopReporter{}

func (NopReporter) LogSent(types.ConnectionID, types.MessageType, int64) {}
func (NopReporter) LogRecv(types.ConnectionID, types.MessageType, int64) {}
func (NopReporter) GetBandwidthTotals() Stats { return Stats{} }
func (NopReporter) GetBandwidthForConnection(types.ConnectionID) Stats { return Stats{} }
func (NopReporter) GetBandwidthForMessageType(types.MessageType) Stats { return Stats{} }
func (NopReporter) GetBandwidthByConnection() map[types.ConnectionID]Stats {
	return map[types.ConnectionID]Stats{}
}
func (NopReporter) GetBandwidthByMessageType() map[types.MessageType]Stats {
	return map[types.MessageType]Stats{}
}
func (NopReporter) ForgetConnection(types.ConnectionID) {}
func (NopReporter) Reset() {}
func (NopReporter) TrimIdle(time.Time) {}
