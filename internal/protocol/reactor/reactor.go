package reactor

import (
	"github.com/dep2p/go-cube/internal/core/metrics"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/lib/log"
	"github.com/dep2p/go-cube/pkg/types"
)

var logger = log.Logger("protocol/reactor")

// Stats 分发统计
type Stats struct {
	// Dispatched 至少有一个处理器的消息数
	Dispatched uint64
	// Unknown 没有处理器的消息数
	Unknown uint64
	// Malformed 无法读出类型字节的消息数
	Malformed uint64
	// HandlerErrors 处理器返回错误的次数
	HandlerErrors uint64
}

// Option 反应器选项
type Option func(*options)

type options struct {
	reporter  metrics.Reporter
	collector *metrics.Collector
}

// WithReporter 记录每条入站消息的字节数
func WithReporter(r metrics.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithCollector 记录接收字节与丢弃原因
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// dispatcher 两侧共用的分发逻辑，H 为处理器类型
type dispatcher[H any] struct {
	side     string
	source   pkgif.PacketSource
	handlers map[types.MessageType][]H
	opts     options
	stats    Stats
}

func newDispatcher[H any](side string, src pkgif.PacketSource, opts []Option) dispatcher[H] {
	d := dispatcher[H]{
		side:     side,
		source:   src,
		handlers: make(map[types.MessageType][]H),
	}
	for _, o := range opts {
		o(&d.opts)
	}
	return d
}

func (d *dispatcher[H]) add(t types.MessageType, h H) {
	d.handlers[t] = append(d.handlers[t], h)
}

func (d *dispatcher[H]) drop(reason string) {
	if d.opts.collector != nil {
		d.opts.collector.Drop(reason)
	}
}

// drain 排空入站队列，call 对每个处理器调用一次
func (d *dispatcher[H]) drain(call func(h H, p pkgif.Packet, msg *bitstream.BitStream) error) int {
	n := 0
	for {
		p, ok := d.source.Receive()
		if !ok {
			return n
		}
		n++
		d.dispatch(p, call)
	}
}

func (d *dispatcher[H]) dispatch(p pkgif.Packet, call func(h H, p pkgif.Packet, msg *bitstream.BitStream) error) {
	msg := bitstream.FromBytes(p.Data)
	t, err := msg.ReadMessageType()
	if err != nil {
		d.stats.Malformed++
		d.drop(metrics.DropMalformed)
		logger.Debug("丢弃空消息", "side", d.side, "conn", p.Connection)
		return
	}
	if d.opts.reporter != nil {
		d.opts.reporter.LogRecv(p.Connection, t, int64(len(p.Data)))
	}
	if d.opts.collector != nil {
		d.opts.collector.BytesReceived.WithLabelValues(t.String()).Add(float64(len(p.Data)))
	}

	hs := d.handlers[t]
	if len(hs) == 0 {
		d.stats.Unknown++
		d.drop(metrics.DropUnknownType)
		logger.Debug("未知消息类型，丢弃", "side", d.side, "type", t, "conn", p.Connection)
		return
	}

	d.stats.Dispatched++
	start := msg.ReadPosition()
	for _, h := range hs {
		// 每个处理器从类型字节之后开始读
		_ = msg.SetReadPosition(start)
		if err := call(h, p, msg); err != nil {
			d.stats.HandlerErrors++
			logger.Debug("处理器返回错误", "side", d.side, "type", t, "conn", p.Connection, "error", err)
		}
	}
}

// ============================================================================
//                              客户端
// ============================================================================

// ClientHandler 客户端消息处理器，msg 的读游标位于类型字节之后
type ClientHandler func(msg *bitstream.BitStream) error

// Client 客户端反应器
type Client struct {
	d dispatcher[ClientHandler]
}

// NewClient 创建客户端反应器
func NewClient(src pkgif.PacketSource, opts ...Option) *Client {
	return &Client{d: newDispatcher[ClientHandler]("client", src, opts)}
}

// AddHandler 注册处理器，同一类型可注册多个，按注册顺序调用
func (c *Client) AddHandler(t types.MessageType, h ClientHandler) {
	c.d.add(t, h)
}

// Update 排空当前可用的全部消息，返回处理的消息数
func (c *Client) Update() int {
	return c.d.drain(func(h ClientHandler, _ pkgif.Packet, msg *bitstream.BitStream) error {
		return h(msg)
	})
}

// Stats 返回分发统计
func (c *Client) Stats() Stats {
	return c.d.stats
}

// ============================================================================
//                              服务端
// ============================================================================

// ServerHandler 服务端消息处理器，conn 为发送方连接
type ServerHandler func(conn types.ConnectionID, msg *bitstream.BitStream) error

// Server 服务端反应器
type Server struct {
	d dispatcher[ServerHandler]
}

// NewServer 创建服务端反应器
func NewServer(src pkgif.PacketSource, opts ...Option) *Server {
	return &Server{d: newDispatcher[ServerHandler]("server", src, opts)}
}

// AddHandler 注册处理器，同一类型可注册多个，按注册顺序调用
func (s *Server) AddHandler(t types.MessageType, h ServerHandler) {
	s.d.add(t, h)
}

// Update 排空当前可用的全部消息，返回处理的消息数
func (s *Server) Update() int {
	return s.d.drain(func(h ServerHandler, p pkgif.Packet, msg *bitstream.BitStream) error {
		return h(p.Connection, msg)
	})
}

// Stats 返回分发统计
func (s *Server) Stats() Stats {
	return s.d.stats
}
