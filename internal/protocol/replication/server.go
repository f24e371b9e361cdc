package replication

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-cube/internal/core/metrics"
	"github.com/dep2p/go-cube/internal/core/priority"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/internal/core/scene"
	"github.com/dep2p/go-cube/internal/protocol/reactor"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

// ServerDeps 服务端依赖，除 Transport 外均可为空
//
// Defaults 为工厂未设置优先级参数时副本使用的默认值。
type ServerDeps struct {
	Transport pkgif.ServerTransport
	Clock     clock.Clock
	Priority  priority.Manager
	Defaults  replica.Settings
	Factory   replica.Factory
	Lookup    replica.TemplateLookup
	Reporter  metrics.Reporter
	Collector *metrics.Collector
}

// Server 服务端副本管理器
//
// 持有权威注册表与观察者集合，并作为传输层的连接事件接收者。
type Server struct {
	cfg       ServerConfig
	transport pkgif.ServerTransport
	reactor   *reactor.Server
	scene     *scene.Scene

	priority priority.Manager
	defaults replica.Settings
	factory  replica.Factory
	lookup   replica.TemplateLookup
	clock    clock.Clock

	reporter  metrics.Reporter
	collector *metrics.Collector

	observers map[types.ConnectionID]*Observer
	destroys  []types.ReplicaID
	notifiee  pkgif.ServerNotifiee
}

var _ pkgif.ServerNotifiee = (*Server)(nil)

// NewServer 创建服务端副本管理器并接管传输层的事件通知
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:       cfg,
		transport: deps.Transport,
		scene:     scene.New(),
		priority:  deps.Priority,
		defaults:  deps.Defaults,
		factory:   deps.Factory,
		lookup:    deps.Lookup,
		clock:     deps.Clock,
		reporter:  deps.Reporter,
		collector: deps.Collector,
		observers: make(map[types.ConnectionID]*Observer),
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.priority == nil {
		s.priority = priority.NewDefaultManager(s.clock)
	}
	if s.defaults == (replica.Settings{}) {
		s.defaults = replica.DefaultSettings()
	}
	if s.factory == nil {
		s.factory = &replica.FactoryBundle{}
	}
	if s.reporter == nil {
		s.reporter = metrics.NopReporter{}
	}
	if s.collector == nil {
		s.collector = metrics.NewCollector("cube", nil)
	}

	s.reactor = reactor.NewServer(s.transport,
		reactor.WithReporter(s.reporter),
		reactor.WithCollector(s.collector),
	)
	s.reactor.AddHandler(types.MessageTypeReplicaRpc, s.handleRPC)
	s.transport.SetNotifiee(s)
	return s
}

// Config 返回配置
func (s *Server) Config() ServerConfig { return s.cfg }

// Transport 返回底层传输
func (s *Server) Transport() pkgif.ServerTransport { return s.transport }

// Reactor 返回服务端反应器，可注册应用自定义消息
func (s *Server) Reactor() *reactor.Server { return s.reactor }

// Scene 返回权威注册表
func (s *Server) Scene() *scene.Scene { return s.scene }

// SetNotifiee 设置连接事件的下游接收者
func (s *Server) SetNotifiee(n pkgif.ServerNotifiee) { s.notifiee = n }

// SetApprover 设置握手审批回调
func (s *Server) SetApprover(fn pkgif.ApproveFunc) { s.transport.SetApprover(fn) }

// Start 开始监听
func (s *Server) Start(address string) error {
	if err := s.transport.Start(address); err != nil {
		return fmt.Errorf("start replication server: %w", err)
	}
	logger.Info("复制服务端已启动", "addr", s.transport.Addr())
	return nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string { return s.transport.Addr() }

// Shutdown 断开所有连接并释放观察者
func (s *Server) Shutdown(reason string) error {
	err := s.transport.Shutdown(reason)
	for conn := range s.observers {
		s.RemoveObserver(conn)
	}
	logger.Info("复制服务端已关闭", "reason", reason, "replicas", s.scene.Len())
	return err
}

// ============================================================================
//                              注册表
// ============================================================================

// Instantiate 按模板创建动态副本，分配新 ID 并登记
func (s *Server) Instantiate(template uint16) (*replica.Replica, error) {
	r, err := replica.Instantiate(s.factory, s.lookup, template)
	if err != nil {
		return nil, err
	}
	if r.Settings() == replica.DefaultSettings() {
		r.SetSettings(s.defaults)
	}

	id, err := s.scene.Allocate()
	if err != nil {
		s.factory.Destroy(r)
		return nil, err
	}
	r.AssignID(id)
	if err := s.scene.Add(r); err != nil {
		s.factory.Destroy(r)
		return nil, err
	}

	s.collector.Replicas.Set(float64(s.scene.Len()))
	logger.Debug("实例化副本", "replica", r)
	return r, nil
}

// RegisterSceneReplicas 以固定场景索引登记场景预置副本
func (s *Server) RegisterSceneReplicas(rs []*replica.Replica) error {
	if err := s.scene.AddScene(rs); err != nil {
		return err
	}
	s.collector.Replicas.Set(float64(s.scene.Len()))
	logger.Debug("登记场景副本", "count", len(rs))
	return nil
}

// Destroy 移除副本，下一个 tick 开始时广播销毁
func (s *Server) Destroy(r *replica.Replica) error {
	if r == nil {
		return ErrUnknownReplica
	}
	got, ok := s.scene.Get(r.ID())
	if !ok || got != r {
		return fmt.Errorf("%w: %s", ErrUnknownReplica, r)
	}

	s.scene.Remove(r.ID())
	for _, o := range s.observers {
		o.forget(r.ID())
	}
	s.destroys = append(s.destroys, r.ID())
	s.factory.Destroy(r)

	s.collector.Replicas.Set(float64(s.scene.Len()))
	logger.Debug("销毁副本", "replica", r)
	return nil
}

// Get 按 ID 查找副本
func (s *Server) Get(id types.ReplicaID) (*replica.Replica, bool) {
	return s.scene.Get(id)
}

// PendingDestroys 尚未广播的销毁数
func (s *Server) PendingDestroys() int { return len(s.destroys) }

// ============================================================================
//                              观察者
// ============================================================================

// AddObserver 为连接创建观察者，已存在时返回原有观察者
func (s *Server) AddObserver(conn types.ConnectionID) (*Observer, error) {
	if !conn.IsValid() {
		return nil, fmt.Errorf("%w: %s", pkgif.ErrUnknownConnection, conn)
	}
	if o, ok := s.observers[conn]; ok {
		return o, nil
	}
	o := newObserver(conn, newLimiter(s.cfg.MaxBytesPerSecond, s.cfg.MaxUpdateMessageBytes))
	s.observers[conn] = o
	s.collector.Observers.Set(float64(len(s.observers)))
	logger.Debug("添加观察者", "conn", conn)
	return o, nil
}

// RemoveObserver 删除观察者及其簿记
func (s *Server) RemoveObserver(conn types.ConnectionID) bool {
	if _, ok := s.observers[conn]; !ok {
		return false
	}
	delete(s.observers, conn)
	s.collector.Observers.Set(float64(len(s.observers)))
	logger.Debug("移除观察者", "conn", conn)
	return true
}

// Observer 返回连接的观察者
func (s *Server) Observer(conn types.ConnectionID) (*Observer, bool) {
	o, ok := s.observers[conn]
	return o, ok
}

// SetObserverPosition 设置连接的观察位置
func (s *Server) SetObserverPosition(conn types.ConnectionID, p types.Vec3) error {
	o, ok := s.observers[conn]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotObserving, conn)
	}
	o.SetPosition(p)
	return nil
}

// FollowReplica 让连接的观察位置跟随副本 r
func (s *Server) FollowReplica(conn types.ConnectionID, r *replica.Replica) error {
	o, ok := s.observers[conn]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotObserving, conn)
	}
	o.Follow(r)
	return nil
}

// Observers 返回全部观察者连接（升序）
func (s *Server) Observers() []types.ConnectionID {
	out := make([]types.ConnectionID, 0, len(s.observers))
	for conn := range s.observers {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
//                              Tick
// ============================================================================

// Tick 泵送传输与入站消息，广播待发的销毁，再为每个观察者发送更新
//
// 只返回致命错误（组件序列化失败、副本状态超过消息容量）；
// 发送失败记录日志并通过 NetworkError 上报。
func (s *Server) Tick() error {
	start := s.clock.Now()
	defer func() {
		s.collector.TickDuration.Observe(s.clock.Since(start).Seconds())
	}()

	s.transport.Update()
	s.reactor.Update()
	s.flushDestroys()

	if len(s.observers) == 0 || s.scene.Len() == 0 {
		return nil
	}

	now := s.clock.Now()
	replicas := s.scene.Replicas()
	payloads := make(map[types.ReplicaID]*bitstream.BitStream, len(replicas))
	for _, conn := range s.Observers() {
		o, ok := s.observers[conn]
		if !ok {
			continue
		}
		if err := s.replicateTo(o, replicas, payloads, now); err != nil {
			return err
		}
	}
	return nil
}

type candidate struct {
	r *replica.Replica
	p types.PriorityResult
}

// rank 计算优先级并按 final 降序、ID 升序排序
func (s *Server) rank(o *Observer, replicas []*replica.Replica) []candidate {
	clear(o.priorities)
	out := make([]candidate, 0, len(replicas))
	for _, r := range replicas {
		p := s.priority.GetPriority(r, o)
		o.priorities[r.ID()] = p
		if p.Relevance <= 0 {
			continue
		}
		if p.Final < s.cfg.MinPriorityForSending {
			s.collector.Drop(metrics.DropBelowMinPriority)
			continue
		}
		out = append(out, candidate{r: r, p: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].p.Final != out[j].p.Final {
			return out[i].p.Final > out[j].p.Final
		}
		return out[i].r.ID() < out[j].r.ID()
	})
	return out
}

func (s *Server) replicateTo(o *Observer, replicas []*replica.Replica, payloads map[types.ReplicaID]*bitstream.BitStream, now time.Time) error {
	cands := s.rank(o, replicas)
	if len(cands) == 0 {
		return nil
	}

	budget := newTickBudget(s.cfg, o.limiter, now)
	batch := newUpdateBatch(s.cfg.MaxUpdateMessageBytes)
	sent := make([]types.ReplicaID, 0, len(cands))

	for i, c := range cands {
		payload, ok := payloads[c.r.ID()]
		if !ok {
			var err error
			if payload, err = encodePayload(c.r); err != nil {
				return err
			}
			payloads[c.r.ID()] = payload
		}

		e := encodeEntry(c.r, c.r.Owner() == o.conn, payload)
		if messageHeaderBits+e.Len() > batch.maxBits {
			return fmt.Errorf("%w: %s needs %d bits", ErrReplicaTooLarge, c.r, e.Len())
		}
		if !budget.take(batch.cost(e.Len())) {
			s.collector.Dropped.WithLabelValues(metrics.DropBudgetExhausted).Add(float64(len(cands) - i))
			break
		}
		if err := batch.add(e); err != nil {
			return err
		}
		sent = append(sent, c.r.ID())
	}

	bytes := 0
	for _, msg := range batch.messages() {
		if err := s.transport.Send(o.conn, msg, s.cfg.UpdateReliability, s.cfg.UpdateChannel); err != nil {
			s.sendFailed(o.conn, types.MessageTypeReplicaUpdate, err)
			return nil
		}
		bytes += len(msg)
		s.logSent(o.conn, types.MessageTypeReplicaUpdate, len(msg))
		s.collector.UpdateMessages.Inc()
	}

	for _, id := range sent {
		o.markSent(id, now)
	}
	s.collector.UpdatesSent.Add(float64(len(sent)))
	consume(o.limiter, now, bytes)
	return nil
}

// flushDestroys 可靠广播上一个 tick 以来的全部销毁
func (s *Server) flushDestroys() {
	if len(s.destroys) == 0 {
		return
	}
	ids := s.destroys
	s.destroys = nil

	for _, msg := range encodeDestroys(ids, s.cfg.MaxUpdateMessageBytes) {
		if err := s.transport.Broadcast(msg, types.ReliableOrdered, s.cfg.DestroyChannel); err != nil {
			s.sendFailed(types.InvalidConnectionID, types.MessageTypeReplicaDestroy, err)
			continue
		}
		s.logSent(types.InvalidConnectionID, types.MessageTypeReplicaDestroy, len(msg))
	}
	s.collector.DestroysSent.Add(float64(len(ids)))
	logger.Debug("广播销毁", "count", len(ids))
}

func (s *Server) logSent(conn types.ConnectionID, t types.MessageType, n int) {
	s.reporter.LogSent(conn, t, int64(n))
	s.collector.BytesSent.WithLabelValues(t.String()).Add(float64(n))
}

// sendFailed 记录发送失败；连接不存在时移除观察者
func (s *Server) sendFailed(conn types.ConnectionID, t types.MessageType, err error) {
	s.collector.SendErrors.Inc()
	if errors.Is(err, pkgif.ErrUnknownConnection) {
		s.collector.Drop(metrics.DropUnknownConn)
		logger.Warn("发送目标连接不存在，移除观察者", "conn", conn, "type", t)
		s.RemoveObserver(conn)
	} else {
		logger.Warn("发送失败", "conn", conn, "type", t, "error", err)
	}
	if s.notifiee != nil {
		s.notifiee.NetworkError(fmt.Errorf("send %s to %s: %w", t, conn, err))
	}
}

// ============================================================================
//                              连接事件
// ============================================================================

// Connected 实现 ServerNotifiee
func (s *Server) Connected(conn types.ConnectionID) {
	logger.Info("客户端已连接", "conn", conn)
	if s.cfg.AutoObserve {
		_, _ = s.AddObserver(conn)
	}
	if s.notifiee != nil {
		s.notifiee.Connected(conn)
	}
}

// Disconnected 实现 ServerNotifiee
//
// 释放观察者，并清除该连接对副本的拥有关系。
func (s *Server) Disconnected(conn types.ConnectionID, reason string) {
	logger.Info("客户端已断开", "conn", conn, "reason", reason)
	s.RemoveObserver(conn)
	s.reporter.ForgetConnection(conn)
	s.scene.Range(func(r *replica.Replica) bool {
		if r.Owner() == conn {
			r.SetOwner(types.InvalidConnectionID)
		}
		return true
	})
	if s.notifiee != nil {
		s.notifiee.Disconnected(conn, reason)
	}
}

// NetworkError 实现 ServerNotifiee
func (s *Server) NetworkError(err error) {
	logger.Warn("传输错误", "error", err)
	if s.notifiee != nil {
		s.notifiee.NetworkError(err)
	}
}
