package wire

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

// ============================================================================
//                              连接事件
// ============================================================================

// EventKind 连接事件类型
type EventKind int

const (
	// EventConnected 连接已建立
	EventConnected EventKind = iota
	// EventDisconnected 连接已断开
	EventDisconnected
	// EventError 网络错误
	EventError
)

// Event 连接事件
type Event struct {
	Kind    EventKind
	Conn    types.ConnectionID
	Session string
	Reason  string
	Err     error
}

// ============================================================================
//                              Inbox
// ============================================================================

type pending struct {
	due    time.Time
	packet pkgif.Packet
	header Header
}

type orderKey struct {
	conn types.ConnectionID
	rel  types.Reliability
	ch   types.Channel
}

// Inbox 入站队列
//
// 网络 goroutine 调用 Push*，tick 线程调用 Update/Events/Receive。
// 启用延迟模拟时，数据包先进入 pending，到期后经过序号过滤进入 ready。
type Inbox struct {
	mu sync.Mutex

	clock clock.Clock
	lag   types.SimulatedLag
	rng   *rand.Rand

	events  []Event
	pending []pending
	ready   []pkgif.Packet

	lastDue map[orderKey]time.Time
	filters map[types.ConnectionID]*SequenceFilter
}

// NewInbox 创建入站队列，clk 为 nil 时使用真实时钟
func NewInbox(clk clock.Clock, lag types.SimulatedLag) *Inbox {
	if clk == nil {
		clk = clock.New()
	}
	return &Inbox{
		clock:   clk,
		lag:     lag,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		lastDue: make(map[orderKey]time.Time),
		filters: make(map[types.ConnectionID]*SequenceFilter),
	}
}

// SetSeed 固定延迟模拟的随机源（测试用）
func (in *Inbox) SetSeed(seed int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.rng = rand.New(rand.NewSource(seed))
}

// SetLag 替换延迟模拟参数，只影响之后推送的数据包
func (in *Inbox) SetLag(lag types.SimulatedLag) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lag = lag
}

// PushEvent 推送连接事件
func (in *Inbox) PushEvent(ev Event) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.events = append(in.events, ev)
}

// PushPacket 推送数据包，h 携带可靠性、通道与序号
func (in *Inbox) PushPacket(p pkgif.Packet, h Header) {
	in.mu.Lock()
	defer in.mu.Unlock()

	p.Reliability = h.Reliability
	p.Channel = h.Channel

	if !in.lag.Active() {
		in.deliverLocked(p, h)
		return
	}

	copies := 1
	if !h.Reliability.IsReliable() {
		if in.lag.LossRate > 0 && in.rng.Float64() < in.lag.LossRate {
			return
		}
		if in.lag.DuplicateRate > 0 && in.rng.Float64() < in.lag.DuplicateRate {
			copies = 2
		}
	}

	now := in.clock.Now()
	for i := 0; i < copies; i++ {
		due := now.Add(in.delayLocked())
		if h.Reliability.IsOrdered() {
			k := orderKey{conn: p.Connection, rel: h.Reliability, ch: h.Channel}
			if last, ok := in.lastDue[k]; ok && due.Before(last) {
				due = last
			}
			in.lastDue[k] = due
		}
		in.insertLocked(pending{due: due, packet: p, header: h})
	}
}

func (in *Inbox) delayLocked() time.Duration {
	min, max := in.lag.MinLatency, in.lag.MaxLatency
	if max <= min {
		return min
	}
	return min + time.Duration(in.rng.Int63n(int64(max-min)+1))
}

// insertLocked 按到期时间插入，到期时间相同的保持推送顺序
func (in *Inbox) insertLocked(p pending) {
	i := sort.Search(len(in.pending), func(i int) bool {
		return in.pending[i].due.After(p.due)
	})
	in.pending = append(in.pending, pending{})
	copy(in.pending[i+1:], in.pending[i:])
	in.pending[i] = p
}

func (in *Inbox) deliverLocked(p pkgif.Packet, h Header) {
	f := in.filters[p.Connection]
	if f == nil {
		f = &SequenceFilter{}
		in.filters[p.Connection] = f
	}
	if !f.Accept(h) {
		return
	}
	in.ready = append(in.ready, p)
}

// Update 将到期的延迟数据包移入可读队列
func (in *Inbox) Update() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.pending) == 0 {
		return
	}
	now := in.clock.Now()
	n := 0
	for n < len(in.pending) && !in.pending[n].due.After(now) {
		in.deliverLocked(in.pending[n].packet, in.pending[n].header)
		n++
	}
	in.pending = in.pending[n:]
}

// Events 取出全部待处理的连接事件
func (in *Inbox) Events() []Event {
	in.mu.Lock()
	defer in.mu.Unlock()
	evs := in.events
	in.events = nil
	return evs
}

// Receive 非阻塞地取出下一个可读数据包
func (in *Inbox) Receive() (pkgif.Packet, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.ready) == 0 {
		return pkgif.Packet{}, false
	}
	p := in.ready[0]
	in.ready[0] = pkgif.Packet{}
	in.ready = in.ready[1:]
	if len(in.ready) == 0 {
		in.ready = nil
	}
	return p, true
}

// Forget 丢弃连接的序号状态与未投递数据
func (in *Inbox) Forget(conn types.ConnectionID) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.filters, conn)
	for k := range in.lastDue {
		if k.conn == conn {
			delete(in.lastDue, k)
		}
	}
	kept := in.pending[:0]
	for _, p := range in.pending {
		if p.packet.Connection != conn {
			kept = append(kept, p)
		}
	}
	in.pending = kept
	ready := in.ready[:0]
	for _, p := range in.ready {
		if p.Connection != conn {
			ready = append(ready, p)
		}
	}
	in.ready = ready
}

// Reset 清空全部状态（客户端重连时使用）
func (in *Inbox) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.events = nil
	in.pending = nil
	in.ready = nil
	in.lastDue = make(map[orderKey]time.Time)
	in.filters = make(map[types.ConnectionID]*SequenceFilter)
}
