package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-cube/pkg/types"
)

// Stats 某一维度（全局、连接或消息类型）的收发统计
//
// 速率取最近 60 秒窗口的平均值。
type Stats struct {
	TotalIn  int64
	TotalOut int64
	RateIn   float64 // 字节/秒
	RateOut  float64 // 字节/秒
}

// meterPair 一个维度上的计数与速率
type meterPair struct {
	in      atomic.Int64
	out     atomic.Int64
	inRate  *RateMeter
	outRate *RateMeter
	touched atomic.Int64 // 最后一次记录的 UnixNano
}

func newMeterPair(clk clock.Clock) *meterPair {
	return &meterPair{inRate: NewRateMeter(clk), outRate: NewRateMeter(clk)}
}

func (m *meterPair) stats() Stats {
	return Stats{
		TotalIn:  m.in.Load(),
		TotalOut: m.out.Load(),
		RateIn:   m.inRate.Rate(),
		RateOut:  m.outRate.Rate(),
	}
}

func (m *meterPair) addIn(size int64, now time.Time) {
	m.in.Add(size)
	m.inRate.Add(size)
	m.touched.Store(now.UnixNano())
}

func (m *meterPair) addOut(size int64, now time.Time) {
	m.out.Add(size)
	m.outRate.Add(size)
	m.touched.Store(now.UnixNano())
}

func (m *meterPair) reset() {
	m.in.Store(0)
	m.out.Store(0)
	m.inRate.Reset()
	m.outRate.Reset()
}

// lastActive 最后一次记录的时间
func (m *meterPair) lastActive() time.Time {
	return time.Unix(0, m.touched.Load())
}

// BandwidthCounter 带宽计数器
//
// 跟踪本端发送和接收的数据：全局、按连接、按消息类型三层。
type BandwidthCounter struct {
	clock clock.Clock
	total *meterPair

	connMu sync.RWMutex
	conns  map[types.ConnectionID]*meterPair

	typeMu sync.RWMutex
	kinds  map[types.MessageType]*meterPair
}

// NewBandwidthCounter 创建带宽计数器，clk 为 nil 时使用真实时间
func NewBandwidthCounter(clk clock.Clock) *BandwidthCounter {
	if clk == nil {
		clk = clock.New()
	}
	return &BandwidthCounter{
		clock: clk,
		total: newMeterPair(clk),
		conns: make(map[types.ConnectionID]*meterPair),
		kinds: make(map[types.MessageType]*meterPair),
	}
}

func (bwc *BandwidthCounter) conn(c types.ConnectionID) *meterPair {
	bwc.connMu.RLock()
	m := bwc.conns[c]
	bwc.connMu.RUnlock()
	if m != nil {
		return m
	}

	bwc.connMu.Lock()
	defer bwc.connMu.Unlock()
	if m = bwc.conns[c]; m == nil {
		m = newMeterPair(bwc.clock)
		bwc.conns[c] = m
	}
	return m
}

func (bwc *BandwidthCounter) kind(t types.MessageType) *meterPair {
	bwc.typeMu.RLock()
	m := bwc.kinds[t]
	bwc.typeMu.RUnlock()
	if m != nil {
		return m
	}

	bwc.typeMu.Lock()
	defer bwc.typeMu.Unlock()
	if m = bwc.kinds[t]; m == nil {
		m = newMeterPair(bwc.clock)
		bwc.kinds[t] = m
	}
	return m
}

// LogSent 记录发往 conn 的一条消息
//
// 广播时 conn 为 InvalidConnectionID，只计入全局与消息类型。
func (bwc *BandwidthCounter) LogSent(conn types.ConnectionID, t types.MessageType, size int64) {
	now := bwc.clock.Now()
	bwc.total.addOut(size, now)
	bwc.kind(t).addOut(size, now)
	if conn.IsValid() {
		bwc.conn(conn).addOut(size, now)
	}
}

// LogRecv 记录来自 conn 的一条消息（客户端侧 conn 为 InvalidConnectionID）
func (bwc *BandwidthCounter) LogRecv(conn types.ConnectionID, t types.MessageType, size int64) {
	now := bwc.clock.Now()
	bwc.total.addIn(size, now)
	bwc.kind(t).addIn(size, now)
	if conn.IsValid() {
		bwc.conn(conn).addIn(size, now)
	}
}

// GetBandwidthTotals 返回总带宽统计
func (bwc *BandwidthCounter) GetBandwidthTotals() Stats {
	return bwc.total.stats()
}

// GetBandwidthForConnection 返回连接带宽统计
func (bwc *BandwidthCounter) GetBandwidthForConnection(conn types.ConnectionID) Stats {
	bwc.connMu.RLock()
	m := bwc.conns[conn]
	bwc.connMu.RUnlock()
	if m == nil {
		return Stats{}
	}
	return m.stats()
}

// GetBandwidthForMessageType 返回消息类型带宽统计
func (bwc *BandwidthCounter) GetBandwidthForMessageType(t types.MessageType) Stats {
	bwc.typeMu.RLock()
	m := bwc.kinds[t]
	bwc.typeMu.RUnlock()
	if m == nil {
		return Stats{}
	}
	return m.stats()
}

// GetBandwidthByConnection 返回所有连接带宽统计
func (bwc *BandwidthCounter) GetBandwidthByConnection() map[types.ConnectionID]Stats {
	bwc.connMu.RLock()
	defer bwc.connMu.RUnlock()

	result := make(map[types.ConnectionID]Stats, len(bwc.conns))
	for c, m := range bwc.conns {
		result[c] = m.stats()
	}
	return result
}

// GetBandwidthByMessageType 返回所有消息类型带宽统计
func (bwc *BandwidthCounter) GetBandwidthByMessageType() map[types.MessageType]Stats {
	bwc.typeMu.RLock()
	defer bwc.typeMu.RUnlock()

	result := make(map[types.MessageType]Stats, len(bwc.kinds))
	for t, m := range bwc.kinds {
		result[t] = m.stats()
	}
	return result
}

// ForgetConnection 删除连接的统计
func (bwc *BandwidthCounter) ForgetConnection(conn types.ConnectionID) {
	bwc.connMu.Lock()
	delete(bwc.conns, conn)
	bwc.connMu.Unlock()
}

// Reset 清除所有统计
func (bwc *BandwidthCounter) Reset() {
	bwc.total.reset()

	bwc.connMu.Lock()
	bwc.conns = make(map[types.ConnectionID]*meterPair)
	bwc.connMu.Unlock()

	bwc.typeMu.Lock()
	bwc.kinds = make(map[types.MessageType]*meterPair)
	bwc.typeMu.Unlock()
}

// TrimIdle 清理 since 之后没有活动的连接统计
//
// 消息类型数量有限，不做清理。
func (bwc *BandwidthCounter) TrimIdle(since time.Time) {
	bwc.connMu.Lock()
	defer bwc.connMu.Unlock()
	for c, m := range bwc.conns {
		if m.lastActive().Before(since) {
			delete(bwc.conns, c)
		}
	}
}
