package quic

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"github.com/dep2p/go-cube/internal/core/transport/wire"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

// ReasonServerFull 连接数已满时的拒绝原因
const ReasonServerFull = "server full"

// pendingConn 已收到 hail、等待审批的连接
type pendingConn struct {
	conn    *quic.Conn
	control io.WriteCloser
	hail    []byte
}

// Server QUIC 服务端
type Server struct {
	cfg        Config
	maxClients int
	inbox      *wire.Inbox

	mu       sync.Mutex
	listener *quic.Listener
	addr     string
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	approver pkgif.ApproveFunc
	notifiee pkgif.ServerNotifiee
	pending  []pendingConn
	sessions map[types.ConnectionID]*session
	nextID   types.ConnectionID
}

var _ pkgif.ServerTransport = (*Server)(nil)

// NewServer 创建服务端
func NewServer(cfg Config, clk clock.Clock, maxClients int, lag types.SimulatedLag) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg.withDefaults(),
		maxClients: maxClients,
		inbox:      wire.NewInbox(clk, lag),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[types.ConnectionID]*session),
	}
}

// Start 实现 ServerTransport，address 形如 "127.0.0.1:0"
func (s *Server) Start(address string) error {
	tlsConf, err := generateServerTLS()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("quic server already listening on %s", s.addr)
	}
	if s.closed {
		return pkgif.ErrTransportClosed
	}

	ln, err := quic.ListenAddr(address, tlsConf, s.cfg.quicConfig())
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", address, err)
	}
	s.listener = ln
	s.addr = ln.Addr().String()

	go s.acceptLoop(ln)

	logger.Info("QUIC 服务端已启动", "addr", s.addr, "maxClients", s.maxClients)
	return nil
}

func (s *Server) acceptLoop(ln *quic.Listener) {
	for {
		conn, err := ln.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.inbox.PushEvent(wire.Event{Kind: wire.EventError, Err: fmt.Errorf("接受连接失败: %w", err)})
			}
			return
		}
		go s.handshake(conn)
	}
}

// handshake 读取客户端 hail，审批留给 Update
func (s *Server) handshake(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	st, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeProtocol, "handshake timeout")
		return
	}
	_ = st.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	frame, err := readFrame(bufio.NewReader(st), s.cfg.MaxFrameSize)
	if err != nil {
		logger.Debug("读取 hail 失败", "remote", conn.RemoteAddr(), "error", err)
		_ = conn.CloseWithError(codeProtocol, "handshake failed")
		return
	}
	ctrl, err := wire.DecodeControl(frame)
	if err != nil || ctrl.Type != types.MessageTypeConnectionHail {
		_ = conn.CloseWithError(codeProtocol, "expected hail")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.CloseWithError(codeShutdown, "server shutting down")
		return
	}
	s.pending = append(s.pending, pendingConn{conn: conn, control: st, hail: ctrl.Hail})
	s.mu.Unlock()
}

// Update 实现 ServerTransport
func (s *Server) Update() {
	s.inbox.Update()

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, p := range pending {
		s.approve(p)
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

func (s *Server) approve(p pendingConn) {
	s.mu.Lock()
	full := s.maxClients > 0 && len(s.sessions) >= s.maxClients
	s.nextID++
	id := s.nextID
	approver := s.approver
	s.mu.Unlock()

	approval := pkgif.Accept()
	switch {
	case full:
		approval = pkgif.Deny(ReasonServerFull)
	case approver != nil:
		approval = approver(id, p.hail)
	}
	if !approval.Accepted {
		logger.Info("连接请求被拒绝", "remote", p.conn.RemoteAddr(), "reason", approval.Reason)
		go s.deny(p, approval.Reason)
		return
	}

	sess := newSession(p.conn, id, s.inbox, s.cfg, s.sessionClosed)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	session := uuid.NewString()
	go func() {
		if err := writeFrame(p.control, wire.EncodeAccepted(session)); err != nil {
			sess.fail(err)
		}
	}()
	sess.start()

	logger.Debug("连接已建立", "conn", id, "remote", p.conn.RemoteAddr())
	s.inbox.PushEvent(wire.Event{Kind: wire.EventConnected, Conn: id})
}

// deny 先写出拒绝原因，等待客户端关闭或超时后再关闭连接
func (s *Server) deny(p pendingConn, reason string) {
	if err := writeFrame(p.control, wire.EncodeFailed(reason)); err == nil {
		_ = p.control.Close()
		select {
		case <-p.conn.Context().Done():
		case <-time.After(s.cfg.DenyLinger):
		}
	}
	_ = p.conn.CloseWithError(codeDenied, reason)
}

func (s *Server) sessionClosed(sess *session, reason string) {
	s.mu.Lock()
	if s.sessions[sess.id] != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	logger.Debug("连接已断开", "conn", sess.id, "reason", reason)
	s.inbox.Forget(sess.id)
	s.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Conn: sess.id, Reason: reason})
}

// Shutdown 实现 ServerTransport
func (s *Server) Shutdown(reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	sessions := s.sessions
	pending := s.pending
	s.sessions = make(map[types.ConnectionID]*session)
	s.pending = nil
	s.mu.Unlock()

	var err error
	for _, id := range sortedIDs(sessions) {
		err = multierr.Append(err, sessions[id].close(codeShutdown, reason))
		s.inbox.Forget(id)
		s.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Conn: id, Reason: reason})
	}
	for _, p := range pending {
		err = multierr.Append(err, p.conn.CloseWithError(codeShutdown, reason))
	}
	s.cancel()
	if ln != nil {
		err = multierr.Append(err, ln.Close())
	}

	logger.Info("QUIC 服务端已关闭", "addr", s.addr, "reason", reason)
	return err
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
	sess := s.sessions[conn]
	s.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w: %s", pkgif.ErrUnknownConnection, conn)
	}
	return sess.send(data, rel, ch)
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
	sess := s.sessions[conn]
	delete(s.sessions, conn)
	s.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w: %s", pkgif.ErrUnknownConnection, conn)
	}

	err := sess.close(codeNormal, reason)
	s.inbox.Forget(conn)
	s.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Conn: conn, Reason: reason})
	return err
}

// Connections 实现 ServerTransport
func (s *Server) Connections() []types.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedIDs(s.sessions)
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

func validate(rel types.Reliability, ch types.Channel) error {
	if !rel.IsValid() {
		return fmt.Errorf("%w: %d", pkgif.ErrInvalidReliability, rel)
	}
	if !ch.IsValid() {
		return fmt.Errorf("%w: %d", pkgif.ErrInvalidChannel, ch)
	}
	return nil
}

func sortedIDs(m map[types.ConnectionID]*session) []types.ConnectionID {
	ids := make([]types.ConnectionID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
