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
	"github.com/dep2p/go-cube/pkg/lib/log"
)

var logger = log.Logger("cube")

// stopTimeout Fx 应用停止的超时
const stopTimeout = 10 * time.Second

// Server 服务端实例
//
// 持有权威副本，每个 tick 按优先级与带宽预算把状态复制给各观察者。
// 除 Close 外的方法都应在同一个 goroutine（通常是游戏循环）中调用。
type Server struct {
	app     *fx.App
	cfg     *config.Config
	clock   clock.Clock
	manager *replication.Server

	mu    sync.Mutex
	state State
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// NewServer 创建服务端，需要调用 Start 开始监听
//
// 示例：
//
//	srv, err := cube.NewServer(
//	    cube.WithPreset(cube.PresetLAN),
//	    cube.WithFactory(factory),
//	)
func NewServer(opts ...Option) (*Server, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	cfg, err := o.unifiedConfig()
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, clock: o.clock}
	if s.clock == nil {
		s.clock = clock.New()
	}
	s.app, err = buildFxApp(o, cfg, &s.manager)
	if err != nil {
		return nil, err
	}
	if o.approver != nil {
		s.manager.SetApprover(o.approver)
	}
	return s, nil
}

// StartServer 快捷启动函数，等价于 NewServer() + Start()
func StartServer(ctx context.Context, address string, opts ...Option) (*Server, error) {
	s, err := NewServer(opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx, address); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start server: %w", err)
	}
	return s, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动模块并在 address 上监听，address 为空时使用配置中的地址
func (s *Server) Start(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateClosed:
		return ErrClosed
	}

	if err := s.app.Start(ctx); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	if address == "" {
		address = s.cfg.Transport.Address
	}
	if err := s.manager.Start(address); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return multierr.Append(err, s.app.Stop(stopCtx))
	}

	s.state = StateRunning
	logger.Info("服务端已启动", "backend", s.cfg.Transport.Backend, "addr", s.manager.Addr())
	return nil
}

// Close 断开所有连接并停止模块，重复调用无副作用
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	wasRunning := s.state == StateRunning
	s.state = StateClosed

	if !wasRunning {
		return nil
	}
	err := s.manager.Shutdown("server closed")
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err = multierr.Append(err, s.app.Stop(ctx))
	logger.Info("服务端已关闭")
	return err
}

// State 返回生命周期状态
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick 执行一次复制 tick
func (s *Server) Tick() error {
	if s.State() != StateRunning {
		return ErrNotStarted
	}
	return s.manager.Tick()
}

// Run 以配置的 tick 率循环，直到 ctx 结束或 tick 返回致命错误
//
// update 在每次 tick 之前调用，用于推进游戏逻辑，可为 nil。
func (s *Server) Run(ctx context.Context, update func() error) error {
	return runLoop(ctx, s.clock, s.cfg.Server.TickRate, update, s.Tick)
}

// ════════════════════════════════════════════════════════════════════════════
//                              副本
// ════════════════════════════════════════════════════════════════════════════

// Instantiate 用模板索引创建并登记动态副本
func (s *Server) Instantiate(template uint16) (*Replica, error) {
	return s.manager.Instantiate(template)
}

// RegisterSceneReplicas 以场景索引登记场景预置副本
func (s *Server) RegisterSceneReplicas(rs []*Replica) error {
	return s.manager.RegisterSceneReplicas(rs)
}

// Destroy 移除副本，销毁消息在下一个 tick 广播
func (s *Server) Destroy(r *Replica) error {
	return s.manager.Destroy(r)
}

// Get 按 ID 查找副本
func (s *Server) Get(id ReplicaID) (*Replica, bool) {
	return s.manager.Get(id)
}

// ReplicaCount 注册表中的副本数
func (s *Server) ReplicaCount() int {
	return s.manager.Scene().Len()
}

// ════════════════════════════════════════════════════════════════════════════
//                              观察者与连接
// ════════════════════════════════════════════════════════════════════════════

// Addr 实际监听地址
func (s *Server) Addr() string { return s.manager.Addr() }

// Connections 已建立的连接（升序）
func (s *Server) Connections() []ConnectionID {
	return s.manager.Transport().Connections()
}

// Disconnect 断开连接
func (s *Server) Disconnect(conn ConnectionID, reason string) error {
	return s.manager.Transport().Disconnect(conn, reason)
}

// SetNotifiee 接收连接事件，回调在 Tick 中执行
func (s *Server) SetNotifiee(n *ServerNotifyBundle) {
	if n == nil {
		s.manager.SetNotifiee(nil)
		return
	}
	s.manager.SetNotifiee(n)
}

// SetObserverPosition 设置连接的观察位置
func (s *Server) SetObserverPosition(conn ConnectionID, p Vec3) error {
	return s.manager.SetObserverPosition(conn, p)
}

// FollowReplica 让连接的观察位置跟随副本
func (s *Server) FollowReplica(conn ConnectionID, r *Replica) error {
	return s.manager.FollowReplica(conn, r)
}

// ════════════════════════════════════════════════════════════════════════════
//                              RPC
// ════════════════════════════════════════════════════════════════════════════

// SendRPC 调用副本拥有者客户端上的方法
func (s *Server) SendRPC(r *Replica, method uint8, args *BitStream, rel Reliability) error {
	return s.manager.SendRPC(r, method, args, rel)
}

// SendRPCTo 调用指定连接上的方法
func (s *Server) SendRPCTo(conn ConnectionID, r *Replica, method uint8, args *BitStream, rel Reliability) error {
	return s.manager.SendRPCTo(conn, r, method, args, rel)
}

// BroadcastRPC 调用所有连接上的方法
func (s *Server) BroadcastRPC(r *Replica, method uint8, args *BitStream, rel Reliability) error {
	return s.manager.BroadcastRPC(r, method, args, rel)
}

// Manager 返回底层的服务端副本管理器
func (s *Server) Manager() *replication.Server { return s.manager }

// Config 返回生效的统一配置
func (s *Server) Config() *config.Config { return s.cfg }

// ════════════════════════════════════════════════════════════════════════════
//                              循环
// ════════════════════════════════════════════════════════════════════════════

// runLoop 按 tickRate 驱动 update 与 tick
func runLoop(ctx context.Context, clk clock.Clock, tickRate int, update, tick func() error) error {
	if tickRate <= 0 {
		tickRate = config.DefaultServerConfig().TickRate
	}
	ticker := clk.Ticker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if update != nil {
				if err := update(); err != nil {
					return err
				}
			}
			if err := tick(); err != nil {
				return err
			}
		}
	}
}
