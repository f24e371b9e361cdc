package cube

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/protocol/replication"
)

// Client 客户端实例
//
// 持有服务端副本的本地镜像。与 Server 一样，除 Close 外的方法
// 都应在同一个 goroutine 中调用。
type Client struct {
	app     *fx.App
	cfg     *config.Config
	clock   clock.Clock
	manager *replication.Client

	mu    sync.Mutex
	state State
}

// NewClient 创建客户端，调用 Connect 后开始工作
func NewClient(opts ...Option) (*Client, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	cfg, err := o.unifiedConfig()
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, clock: o.clock}
	if c.clock == nil {
		c.clock = clock.New()
	}
	c.app, err = buildFxApp(o, cfg, &c.manager)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Connect 向服务端发起连接，address 为空时使用配置中的地址
//
// 握手结果在后续 Tick 中通过 SetNotifiee 设置的回调通知。
func (c *Client) Connect(ctx context.Context, address string, hail []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateIdle:
		if err := c.app.Start(ctx); err != nil {
			return fmt.Errorf("initialize failed: %w", err)
		}
		c.state = StateRunning
	}
	if address == "" {
		address = c.cfg.Transport.Address
	}
	logger.Info("正在连接服务端", "backend", c.cfg.Transport.Backend, "addr", address)
	return c.manager.Connect(address, hail)
}

// Disconnect 主动断开，之后可以再次 Connect
func (c *Client) Disconnect(reason string) error {
	return c.manager.Disconnect(reason)
}

// IsConnected 握手是否已完成
func (c *Client) IsConnected() bool { return c.manager.IsConnected() }

// Session 服务端分配的会话 ID
func (c *Client) Session() string { return c.manager.Session() }

// Close 断开连接并停止模块，重复调用无副作用
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	wasRunning := c.state == StateRunning
	c.state = StateClosed
	if !wasRunning {
		return nil
	}

	var err error
	if c.manager.IsConnected() {
		err = c.manager.Disconnect("client closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return multierr.Append(err, c.app.Stop(ctx))
}

// State 返回生命周期状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tick 泵送传输、应用入站消息并销毁不活跃的镜像
func (c *Client) Tick() error {
	if c.State() != StateRunning {
		return ErrNotConnected
	}
	return c.manager.Tick()
}

// Run 以配置的 tick 率循环，直到 ctx 结束
func (c *Client) Run(ctx context.Context, update func() error) error {
	return runLoop(ctx, c.clock, c.cfg.Server.TickRate, update, c.Tick)
}

// SetNotifiee 接收连接事件，回调在 Tick 中执行
func (c *Client) SetNotifiee(n *ClientNotifyBundle) {
	if n == nil {
		c.manager.SetNotifiee(nil)
		return
	}
	c.manager.SetNotifiee(n)
}

// RegisterSceneReplicas 登记场景预置镜像
func (c *Client) RegisterSceneReplicas(rs []*Replica) error {
	return c.manager.RegisterSceneReplicas(rs)
}

// Get 按 ID 查找镜像
func (c *Client) Get(id ReplicaID) (*Replica, bool) { return c.manager.Get(id) }

// Owned 返回本端拥有的镜像
func (c *Client) Owned() []*Replica {
	var out []*Replica
	c.manager.Scene().Range(func(r *Replica) bool {
		if r.IsOwner() {
			out = append(out, r)
		}
		return true
	})
	return out
}

// ReplicaCount 镜像数（含场景镜像）
func (c *Client) ReplicaCount() int { return c.manager.Scene().Len() }

// LastUpdate 镜像最近一次收到更新的时间
func (c *Client) LastUpdate(id ReplicaID) (time.Time, bool) {
	return c.manager.LastUpdate(id)
}

// SendRPC 在服务端调用自己拥有的副本上的方法
func (c *Client) SendRPC(r *Replica, method uint8, args *BitStream, rel Reliability) error {
	return c.manager.SendRPC(r, method, args, rel)
}

// Manager 返回底层的客户端副本管理器
func (c *Client) Manager() *replication.Client { return c.manager }

// Config 返回生效的统一配置
func (c *Client) Config() *config.Config { return c.cfg }
