package replication

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-cube/internal/core/metrics"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/internal/core/scene"
	"github.com/dep2p/go-cube/internal/protocol/reactor"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

// ClientDeps 客户端依赖，除 Transport 外均可为空
type ClientDeps struct {
	Transport pkgif.ClientTransport
	Clock     clock.Clock
	Factory   replica.Factory
	Lookup    replica.TemplateLookup
	Reporter  metrics.Reporter
	Collector *metrics.Collector
}

// tombstone 最近被移除的镜像 ID
type tombstone struct {
	at time.Time
	// explicit 由服务端销毁消息移除，否则为不活跃超时
	explicit bool
}

// Client 客户端副本管理器
type Client struct {
	cfg       ClientConfig
	transport pkgif.ClientTransport
	reactor   *reactor.Client
	scene     *scene.Scene

	factory replica.Factory
	lookup  replica.TemplateLookup
	clock   clock.Clock

	reporter  metrics.Reporter
	collector *metrics.Collector

	lastUpdate map[types.ReplicaID]time.Time
	tombstones *lru.Cache[types.ReplicaID, tombstone]

	session  string
	notifiee pkgif.ClientNotifiee
}

var _ pkgif.ClientNotifiee = (*Client)(nil)

// NewClient 创建客户端副本管理器并接管传输层的事件通知
func NewClient(cfg ClientConfig, deps ClientDeps) *Client {
	c := &Client{
		cfg:        cfg,
		transport:  deps.Transport,
		scene:      scene.New(),
		factory:    deps.Factory,
		lookup:     deps.Lookup,
		clock:      deps.Clock,
		reporter:   deps.Reporter,
		collector:  deps.Collector,
		lastUpdate: make(map[types.ReplicaID]time.Time),
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.factory == nil {
		c.factory = &replica.FactoryBundle{}
	}
	if c.reporter == nil {
		c.reporter = metrics.NopReporter{}
	}
	if c.collector == nil {
		c.collector = metrics.NewCollector("cube", nil)
	}

	// 墓碑年龄按注入的时钟在 buried 中判断，缓存只按容量淘汰，不启动后台清理
	size := cfg.TombstoneCapacity
	if size <= 0 {
		size = DefaultClientConfig().TombstoneCapacity
	}
	c.tombstones, _ = lru.New[types.ReplicaID, tombstone](size)

	c.reactor = reactor.NewClient(c.transport,
		reactor.WithReporter(c.reporter),
		reactor.WithCollector(c.collector),
	)
	c.reactor.AddHandler(types.MessageTypeReplicaUpdate, c.handleUpdate)
	c.reactor.AddHandler(types.MessageTypeReplicaDestroy, c.handleDestroy)
	c.reactor.AddHandler(types.MessageTypeReplicaRpc, c.handleRPC)
	c.transport.SetNotifiee(c)
	return c
}

// Config 返回配置
func (c *Client) Config() ClientConfig { return c.cfg }

// Transport 返回底层传输
func (c *Client) Transport() pkgif.ClientTransport { return c.transport }

// Reactor 返回客户端反应器，可注册应用自定义消息
func (c *Client) Reactor() *reactor.Client { return c.reactor }

// Scene 返回镜像注册表
func (c *Client) Scene() *scene.Scene { return c.scene }

// SetNotifiee 设置连接事件的下游接收者
func (c *Client) SetNotifiee(n pkgif.ClientNotifiee) { c.notifiee = n }

// Session 服务端分配的会话 ID，未连接时为空
func (c *Client) Session() string { return c.session }

// Connect 连接服务端，结果在后续 Tick 中通知
func (c *Client) Connect(address string, hail []byte) error {
	if err := c.transport.Connect(address, hail); err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}
	return nil
}

// Disconnect 主动断开
func (c *Client) Disconnect(reason string) error {
	return c.transport.Disconnect(reason)
}

// IsConnected 握手是否完成
func (c *Client) IsConnected() bool { return c.transport.IsConnected() }

// RegisterSceneReplicas 以固定场景索引登记场景预置镜像
func (c *Client) RegisterSceneReplicas(rs []*replica.Replica) error {
	if err := c.scene.AddScene(rs); err != nil {
		return err
	}
	c.collector.Replicas.Set(float64(c.scene.Len()))
	logger.Debug("登记场景镜像", "count", len(rs))
	return nil
}

// Get 按 ID 查找镜像
func (c *Client) Get(id types.ReplicaID) (*replica.Replica, bool) {
	return c.scene.Get(id)
}

// LastUpdate 镜像最近一次收到更新的时间
func (c *Client) LastUpdate(id types.ReplicaID) (time.Time, bool) {
	t, ok := c.lastUpdate[id]
	return t, ok
}

// ============================================================================
//                              Tick
// ============================================================================

// Tick 泵送传输、处理入站消息，然后销毁不活跃的镜像
func (c *Client) Tick() error {
	c.transport.Update()
	c.reactor.Update()
	c.expire(c.clock.Now())
	return nil
}

// expire 销毁超过不活跃超时的非场景镜像
func (c *Client) expire(now time.Time) {
	c.scene.Range(func(r *replica.Replica) bool {
		if r.IsSceneReplica() {
			return true
		}
		last, ok := c.lastUpdate[r.ID()]
		if ok && now.Sub(last) <= c.cfg.InactivityTimeout {
			return true
		}
		logger.Debug("镜像不活跃超时，本地销毁", "replica", r)
		c.remove(r, tombstone{at: now})
		c.collector.Expired.Inc()
		return true
	})
}

// remove 从注册表移除镜像并留下墓碑
func (c *Client) remove(r *replica.Replica, t tombstone) {
	c.scene.Remove(r.ID())
	delete(c.lastUpdate, r.ID())
	c.bury(r.ID(), t)
	c.factory.Destroy(r)
	c.collector.Replicas.Set(float64(c.scene.Len()))
}

// bury 记录墓碑，at 为零值或宽限期为 0 时不记录
//
// 缓存已满时淘汰最久未用的墓碑，被淘汰 ID 的迟到更新不再被拦截。
func (c *Client) bury(id types.ReplicaID, t tombstone) {
	if t.at.IsZero() || c.grace(t) <= 0 {
		return
	}
	if evicted := c.tombstones.Add(id, t); evicted {
		c.collector.TombstonesLost.Inc()
		logger.Warn("墓碑缓存已满，淘汰最旧的墓碑", "replica", id, "capacity", c.tombstones.Len())
	}
}

func (c *Client) grace(t tombstone) time.Duration {
	if t.explicit {
		return c.cfg.TombstoneTTL
	}
	return c.cfg.ExpiredGrace
}

// buried id 是否仍在墓碑期内
func (c *Client) buried(id types.ReplicaID, now time.Time) bool {
	t, ok := c.tombstones.Peek(id)
	if !ok {
		return false
	}
	if now.Sub(t.at) < c.grace(t) {
		return true
	}
	c.tombstones.Remove(id)
	return false
}

// ============================================================================
//                              消息处理
// ============================================================================

// handleUpdate 应用更新消息中的每个条目
//
// 单个条目失败只影响该条目；条目头无法解析时放弃消息剩余部分。
func (c *Client) handleUpdate(msg *bitstream.BitStream) error {
	n, err := msg.ReadUint16()
	if err != nil {
		c.collector.Drop(metrics.DropMalformed)
		return malformed("update count", err)
	}
	now := c.clock.Now()
	for i := 0; i < int(n); i++ {
		h, err := readEntryHeader(msg)
		if err != nil {
			c.collector.Drop(metrics.DropMalformed)
			return err
		}
		payload, err := msg.ReadStream(h.bits)
		if err != nil {
			c.collector.Drop(metrics.DropMalformed)
			return malformed("update payload", err)
		}
		c.applyEntry(h, payload, now)
	}
	return nil
}

func (c *Client) applyEntry(h entryHeader, payload *bitstream.BitStream, now time.Time) {
	if c.buried(h.id, now) {
		c.collector.Drop(metrics.DropDestroyed)
		logger.Debug("忽略已销毁副本的更新", "replica", h.id)
		return
	}

	r, ok := c.scene.Get(h.id)
	if ok && (r.IsSceneReplica() != h.scene || (!h.scene && r.TemplateIndex() != h.template)) {
		// 服务端已把该 ID 分配给另一个对象
		logger.Debug("副本 ID 已被复用，替换镜像", "replica", h.id, "template", h.template)
		c.remove(r, tombstone{})
		ok = false
	}

	created := false
	if !ok {
		if h.scene {
			c.collector.Drop(metrics.DropUnknownReplica)
			logger.Debug("未知的场景副本，丢弃更新", "replica", h.id)
			return
		}
		var err error
		if r, err = c.instantiate(h); err != nil {
			if errors.Is(err, ErrUnknownTemplate) {
				c.collector.Drop(metrics.DropUnknownTemplate)
			}
			logger.Warn("无法实例化镜像，丢弃更新", "replica", h.id, "template", h.template, "error", err)
			return
		}
		created = true
	}

	if err := r.Deserialize(payload); err != nil {
		c.collector.Drop(metrics.DropMalformed)
		logger.Warn("镜像状态反序列化失败", "replica", r, "error", err)
		if created {
			c.remove(r, tombstone{})
		}
		return
	}
	if left := payload.Remaining(); left != 0 {
		// 组件列表与服务端不一致，状态不可信
		c.collector.Drop(metrics.DropLayoutMismatch)
		logger.Error("镜像组件布局与服务端不一致，丢弃更新", "replica", r, "unreadBits", left)
		if created {
			c.remove(r, tombstone{})
		}
		return
	}
	r.SetOwned(h.owned)
	c.lastUpdate[h.id] = now
	c.collector.UpdatesApplied.Inc()
}

// instantiate 解析模板并登记新镜像
func (c *Client) instantiate(h entryHeader) (*replica.Replica, error) {
	r, err := replica.Instantiate(c.factory, c.lookup, h.template)
	if err != nil {
		return nil, err
	}
	r.AssignID(h.id)
	if err := c.scene.Add(r); err != nil {
		c.factory.Destroy(r)
		return nil, err
	}
	c.collector.Replicas.Set(float64(c.scene.Len()))
	logger.Debug("创建镜像", "replica", r)
	return r, nil
}

// handleDestroy 立即移除列出的镜像，未知 ID 只留下墓碑
func (c *Client) handleDestroy(msg *bitstream.BitStream) error {
	ids, err := decodeDestroys(msg)
	if err != nil {
		c.collector.Drop(metrics.DropMalformed)
		return err
	}
	now := c.clock.Now()
	for _, id := range ids {
		t := tombstone{at: now, explicit: true}
		r, ok := c.scene.Get(id)
		if !ok {
			c.bury(id, t)
			logger.Debug("销毁未知副本，忽略", "replica", id)
			continue
		}
		c.remove(r, t)
		c.collector.DestroysApplied.Inc()
	}
	return nil
}

// ============================================================================
//                              连接事件
// ============================================================================

// Connected 实现 ClientNotifiee
func (c *Client) Connected(session string) {
	c.session = session
	logger.Info("已连接到服务端", "session", session)
	if c.notifiee != nil {
		c.notifiee.Connected(session)
	}
}

// Disconnected 实现 ClientNotifiee
//
// 丢弃全部动态镜像；场景镜像保留。
func (c *Client) Disconnected(reason string) {
	logger.Info("与服务端断开", "reason", reason, "session", c.session)
	c.session = ""
	c.scene.Range(func(r *replica.Replica) bool {
		if !r.IsSceneReplica() {
			c.remove(r, tombstone{})
		}
		return true
	})
	c.tombstones.Purge()
	if c.notifiee != nil {
		c.notifiee.Disconnected(reason)
	}
}

// NetworkError 实现 ClientNotifiee
func (c *Client) NetworkError(err error) {
	logger.Warn("传输错误", "error", err)
	if c.notifiee != nil {
		c.notifiee.NetworkError(err)
	}
}
