package loopback

import (
	"fmt"
	"sync"

	"github.com/dep2p/go-cube/internal/core/transport/wire"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

type clientState int

const (
	stateIdle clientState = iota
	stateConnecting
	stateConnected
)

// Client 进程内客户端
type Client struct {
	network *Network
	inbox   *wire.Inbox

	mu       sync.Mutex
	state    clientState
	server   *Server
	conn     types.ConnectionID
	seq      wire.Sequencer
	notifiee pkgif.ClientNotifiee
}

var _ pkgif.ClientTransport = (*Client)(nil)

// NewClient 创建客户端
func NewClient(network *Network) *Client {
	if network == nil {
		network = NewNetwork(nil)
	}
	return &Client{
		network: network,
		inbox:   wire.NewInbox(network.clock, types.NoLag()),
	}
}

// Connect 实现 ClientTransport
//
// 地址上没有服务端时同步返回 ErrNoServer；审批结果在之后的 Update 中通知。
func (c *Client) Connect(address string, hail []byte) error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return pkgif.ErrAlreadyConnected
	}
	s := c.network.lookup(address)
	if s == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoServer, address)
	}
	c.state = stateConnecting
	c.server = s
	c.conn = types.InvalidConnectionID
	c.seq = wire.Sequencer{}
	c.mu.Unlock()

	c.inbox.Reset()
	// 服务端的延迟设置同样作用于下行方向
	c.inbox.SetLag(s.lag)

	if err := s.enqueue(c, hail); err != nil {
		c.reset(s)
		return err
	}
	logger.Debug("发起 loopback 连接", "addr", address)
	return nil
}

// Disconnect 实现 ClientTransport
func (c *Client) Disconnect(reason string) error {
	c.mu.Lock()
	if c.state == stateIdle {
		c.mu.Unlock()
		return pkgif.ErrNotConnected
	}
	s, id, st := c.server, c.conn, c.state
	c.state = stateIdle
	c.server = nil
	c.conn = types.InvalidConnectionID
	c.mu.Unlock()

	if st == stateConnected {
		s.dropClient(id, reason)
	} else {
		s.cancel(c)
	}
	c.inbox.Reset()
	c.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Reason: reason})
	return nil
}

// Update 实现 ClientTransport
func (c *Client) Update() {
	c.inbox.Update()

	c.mu.Lock()
	n := c.notifiee
	c.mu.Unlock()

	for _, ev := range c.inbox.Events() {
		if n == nil {
			continue
		}
		switch ev.Kind {
		case wire.EventConnected:
			n.Connected(ev.Session)
		case wire.EventDisconnected:
			if ev.Err != nil {
				n.NetworkError(ev.Err)
			}
			n.Disconnected(ev.Reason)
		case wire.EventError:
			n.NetworkError(ev.Err)
		}
	}
}

// Receive 实现 PacketSource
func (c *Client) Receive() (pkgif.Packet, bool) {
	return c.inbox.Receive()
}

// Send 实现 ClientTransport
func (c *Client) Send(data []byte, rel types.Reliability, ch types.Channel) error {
	if err := validate(rel, ch); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return pkgif.ErrNotConnected
	}
	s, id := c.server, c.conn
	h := wire.Header{Reliability: rel, Channel: ch, Sequence: c.seq.Next(rel, ch)}
	c.mu.Unlock()

	s.deliver(id, clone(data), h)
	return nil
}

// IsConnected 实现 ClientTransport
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// SetNotifiee 实现 ClientTransport
func (c *Client) SetNotifiee(n pkgif.ClientNotifiee) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiee = n
}

// ============================================================================
//                              服务端回调
// ============================================================================

func (c *Client) accepted(s *Server, id types.ConnectionID, session string) bool {
	c.mu.Lock()
	if c.state != stateConnecting || c.server != s {
		c.mu.Unlock()
		return false
	}
	c.state = stateConnected
	c.conn = id
	c.mu.Unlock()

	c.inbox.PushEvent(wire.Event{Kind: wire.EventConnected, Conn: id, Session: session})
	return true
}

func (c *Client) denied(s *Server, reason string) {
	if !c.reset(s) {
		return
	}
	c.inbox.PushEvent(wire.Event{
		Kind:   wire.EventDisconnected,
		Reason: reason,
		Err:    &pkgif.DeniedError{Reason: reason},
	})
}

func (c *Client) remoteDisconnected(s *Server, reason string) {
	if !c.reset(s) {
		return
	}
	c.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Reason: reason})
}

func (c *Client) deliver(s *Server, data []byte, h wire.Header) {
	c.mu.Lock()
	ok := c.state == stateConnected && c.server == s
	c.mu.Unlock()
	if !ok {
		return
	}
	c.inbox.PushPacket(pkgif.Packet{Connection: types.InvalidConnectionID, Data: data}, h)
}

// reset 在当前服务端仍为 s 时回到空闲状态
func (c *Client) reset(s *Server) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != s || c.state == stateIdle {
		return false
	}
	c.state = stateIdle
	c.server = nil
	c.conn = types.InvalidConnectionID
	return true
}
