package websocket

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

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

// Client WebSocket 客户端
type Client struct {
	cfg   Config
	inbox *wire.Inbox

	mu       sync.Mutex
	state    clientState
	gen      uint64
	sess     *session
	cancel   context.CancelFunc
	notifiee pkgif.ClientNotifiee
}

var _ pkgif.ClientTransport = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config, clk clock.Clock) *Client {
	return &Client{
		cfg:   cfg.withDefaults(),
		inbox: wire.NewInbox(clk, types.NoLag()),
	}
}

// dialURL 将 "host:port" 补全为 ws URL，已带 scheme 的地址原样使用
func (c *Client) dialURL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	return "ws://" + address + c.cfg.Path
}

// Connect 实现 ClientTransport
func (c *Client) Connect(address string, hail []byte) error {
	msg, err := wire.EncodeHail(hail)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return pkgif.ErrAlreadyConnected
	}
	c.state = stateConnecting
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.inbox.Reset()
	go c.dial(ctx, gen, c.dialURL(address), msg)
	return nil
}

func (c *Client) dial(ctx context.Context, gen uint64, url string, hail []byte) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(hctx, url, nil)
	if err != nil {
		c.abort(gen, err)
		return
	}

	ctrl, err := c.exchange(conn, hail)
	if err != nil {
		_ = conn.Close()
		c.abort(gen, err)
		return
	}

	switch ctrl.Type {
	case types.MessageTypeConnectionRequestAccepted:
		c.mu.Lock()
		if c.gen != gen || c.state != stateConnecting {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		sess := newSession(conn, types.InvalidConnectionID, c.inbox, c.cfg, c.sessionClosed)
		c.sess = sess
		c.state = stateConnected
		c.mu.Unlock()

		sess.start()
		logger.Info("已连接到 WebSocket 服务端", "url", url, "session", ctrl.Session)
		c.inbox.PushEvent(wire.Event{Kind: wire.EventConnected, Session: ctrl.Session})

	case types.MessageTypeConnectionRequestFailed:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		_ = conn.Close()
		if c.reset(gen) {
			logger.Info("连接被拒绝", "url", url, "reason", ctrl.Reason)
			c.inbox.PushEvent(wire.Event{
				Kind:   wire.EventDisconnected,
				Reason: ctrl.Reason,
				Err:    &pkgif.DeniedError{Reason: ctrl.Reason},
			})
		}

	default:
		_ = conn.Close()
		c.abort(gen, ErrUnexpectedControl)
	}
}

// exchange 写入 hail 并读取审批结果
func (c *Client) exchange(conn *websocket.Conn, hail []byte) (wire.Control, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, hail); err != nil {
		return wire.Control{}, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return wire.Control{}, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return wire.DecodeControl(data)
}

func (c *Client) abort(gen uint64, err error) {
	if !c.reset(gen) {
		return
	}
	logger.Warn("WebSocket 连接失败", "error", err)
	c.inbox.PushEvent(wire.Event{Kind: wire.EventError, Err: err})
	c.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Reason: reasonFrom(err)})
}

func (c *Client) reset(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state == stateIdle {
		return false
	}
	c.state = stateIdle
	c.sess = nil
	return true
}

func (c *Client) sessionClosed(sess *session, reason string) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = stateIdle
	c.mu.Unlock()

	logger.Info("与服务端的连接已断开", "reason", reason)
	c.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Reason: reason})
}

// Disconnect 实现 ClientTransport
func (c *Client) Disconnect(reason string) error {
	c.mu.Lock()
	if c.state == stateIdle {
		c.mu.Unlock()
		return pkgif.ErrNotConnected
	}
	sess, cancel := c.sess, c.cancel
	c.state = stateIdle
	c.sess = nil
	c.gen++
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if sess != nil {
		err = sess.close(websocket.CloseNormalClosure, reason)
	}
	c.inbox.Reset()
	c.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Reason: reason})
	return err
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
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return pkgif.ErrNotConnected
	}
	return sess.send(data, rel, ch)
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
