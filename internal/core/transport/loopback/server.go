package loopback

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dep2p/go-cube/internal/core/transport/wire"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/log"
	"github.com/dep2p/go-cube/pkg/types"
)

var logger = log.Logger("core/transport/loopback")

// ReasonServerFull 连接数已满时的拒绝原因
const ReasonServerFull = "server full"

type request struct {
	client *Client
	hail   []byte
}

type peer struct {
	client *Client
	seq    wire.Sequencer
}

// Server 进程内服务端
type Server struct {
	network    *Network
	maxClients int
	lag        types.SimulatedLag
	inbox      *wire.Inbox

	mu       sync.Mutex
	addr     string
	started  bool
	closed   bool
	approver pkgif.ApproveFunc
	notifiee pkgif.ServerNotifiee
	requests []request
	conns    map[types.ConnectionID]*peer
	nextID   types.ConnectionID
}

var _ pkgif.ServerTransport = (*Server)(nil)

// NewServer 创建服务端，maxClients <= 0 表示不限
func NewServer(network *Network, maxClients int, lag types.SimulatedLag) *Server {
	if network == nil {
		network = NewNetwork(nil)
	}
	return &Server{
		network:    network,
		maxClients: maxClients,
		lag:        lag,
		inbox:      wire.NewInbox(network.clock, lag),
		conns:      make(map[types.ConnectionID]*peer),
	}
}

// Start 实现 ServerTransport，address 为空时自动分配
func (s *Server) Start(address string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("loopback server already started at %s", s.addr)
	}
	s.mu.Unlock()

	addr, err := s.network.listen(address, s)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addr = addr
	s.started = true
	s.closed = false
	s.mu.Unlock()

	logger.Info("loopback 服务端已启动", "addr", addr, "maxClients", s.maxClients)
	return nil
}

// Shutdown 实现 ServerTransport
func (s *Server) Shutdown(reason string) error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	addr := s.addr
	peers := s.conns
	reqs := s.requests
	s.conns = make(map[types.ConnectionID]*peer)
	s.requests = nil
	s.mu.Unlock()

	s.network.unlisten(addr, s)

	for _, r := range reqs {
		r.client.denied(s, reason)
	}
	for _, id := range sortedIDs(peers) {
		peers[id].client.remoteDisconnected(s, reason)
		s.inbox.Forget(id)
		s.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Conn: id, Reason: reason})
	}

	logger.Info("loopback 服务端已关闭", "addr", addr, "reason", reason)
	return nil
}

// Update 实现 ServerTransport
//
// 处理排队的连接请求，然后派发连接事件。
func (s *Server) Update() {
	s.inbox.Update()

	s.mu.Lock()
	reqs := s.requests
	s.requests = nil
	s.mu.Unlock()

	for _, r := range reqs {
		s.handleRequest(r)
	}

	s.mu.Lock()
	n := s.notifiee
	s.mu.Unlock()

	for _, ev := range s.inbox.Events() {
		if n == nil {
			continue
		}
		switch ev.Kind {
		case wire.EventConnected:
			n.Connected(ev.Conn)
		case wire.EventDisconnected:
			n.Disconnected(ev.Conn, ev.Reason)
		case wire.EventError:
			n.NetworkError(ev.Err)
		}
	}
}

func (s *Server) handleRequest(r request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		r.client.denied(s, "server shutting down")
		return
	}
	full := s.maxClients > 0 && len(s.conns) >= s.maxClients
	s.nextID++
	id := s.nextID
	approver := s.approver
	s.mu.Unlock()

	if full {
		logger.Warn("拒绝连接：服务端已满", "conn", id, "maxClients", s.maxClients)
		r.client.denied(s, ReasonServerFull)
		return
	}

	approval := pkgif.Accept()
	if approver != nil {
		approval = approver(id, r.hail)
	}
	if !approval.Accepted {
		logger.Info("连接请求被拒绝", "conn", id, "reason", approval.Reason)
		r.client.denied(s, approval.Reason)
		return
	}

	s.mu.Lock()
	s.conns[id] = &peer{client: r.client}
	s.mu.Unlock()

	if !r.client.accepted(s, id, uuid.NewString()) {
		// 客户端在审批期间放弃了连接
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		return
	}

	logger.Debug("连接已建立", "conn", id)
	s.inbox.PushEvent(wire.Event{Kind: wire.EventConnected, Conn: id})
}

// Receive 实现 PacketSource
func (s *Server) Receive() (pkgif.Packet, bool) {
	return s.inbox.Receive()
}

// Send 实现 ServerTransport
func (s *Server) Send(conn types.ConnectionID, data []byte, rel types.Reliability, ch types.Channel) error {
	if err := validate(rel, ch); err != nil {
		return err
	}
	s.mu.Lock()
	p := s.conns[conn]
	if p == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", pkgif.ErrUnknownConnection, conn)
	}
	h := wire.Header{Reliability: rel, Channel: ch, Sequence: p.seq.Next(rel, ch)}
	client := p.client
	s.mu.Unlock()

	client.deliver(s, clone(data), h)
	return nil
}

// Broadcast 实现 ServerTransport
func (s *Server) Broadcast(data []byte, rel types.Reliability, ch types.Channel) error {
	var err error
	for _, id := range s.Connections() {
		err = multierr.Append(err, s.Send(id, data, rel, ch))
	}
	return err
}

// Disconnect 实现 ServerTransport
func (s *Server) Disconnect(conn types.ConnectionID, reason string) error {
	s.mu.Lock()
	p := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: %s", pkgif.ErrUnknownConnection, conn)
	}

	p.client.remoteDisconnected(s, reason)
	s.inbox.Forget(conn)
	s.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Conn: conn, Reason: reason})
	logger.Debug("服务端断开连接", "conn", conn, "reason", reason)
	return nil
}

// Connections 实现 ServerTransport
func (s *Server) Connections() []types.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedIDs(s.conns)
}

// Addr 实现 ServerTransport
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// SetApprover 实现 ServerTransport
func (s *Server) SetApprover(fn pkgif.ApproveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approver = fn
}

// SetNotifiee 实现 ServerTransport
func (s *Server) SetNotifiee(n pkgif.ServerNotifiee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiee = n
}

// ============================================================================
//                              客户端回调
// ============================================================================

func (s *Server) enqueue(c *Client, hail []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return pkgif.ErrTransportClosed
	}
	s.requests = append(s.requests, request{client: c, hail: clone(hail)})
	return nil
}

func (s *Server) cancel(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.requests[:0]
	for _, r := range s.requests {
		if r.client != c {
			kept = append(kept, r)
		}
	}
	s.requests = kept
}

func (s *Server) deliver(conn types.ConnectionID, data []byte, h wire.Header) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.inbox.PushPacket(pkgif.Packet{Connection: conn, Data: data}, h)
}

func (s *Server) dropClient(conn types.ConnectionID, reason string) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.inbox.Forget(conn)
	s.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Conn: conn, Reason: reason})
}

// ============================================================================
//                              辅助函数
// ============================================================================

func validate(rel types.Reliability, ch types.Channel) error {
	if !rel.IsValid() {
		return fmt.Errorf("%w: %d", pkgif.ErrInvalidReliability, rel)
	}
	if !ch.IsValid() {
		return fmt.Errorf("%w: %d", pkgif.ErrInvalidChannel, ch)
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func sortedIDs(m map[types.ConnectionID]*peer) []types.ConnectionID {
	ids := make([]types.ConnectionID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
