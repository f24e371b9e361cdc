package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/dep2p/go-cube/internal/core/transport/wire"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

// ReasonServerFull 连接数已满时的拒绝原因
const ReasonServerFull = "server full"

type pendingConn struct {
	conn *websocket.Conn
	hail []byte
}

// Server WebSocket 服务端
type Server struct {
	cfg        Config
	maxClients int
	inbox      *wire.Inbox
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	http     *http.Server
	addr     string
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
	cfg = cfg.withDefaults()
	return &Server{
		cfg:        cfg,
		maxClients: maxClients,
		inbox:      wire.NewInbox(clk, lag),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		sessions: make(map[types.ConnectionID]*session),
	}
}

// Start 实现 ServerTransport，address 形如 "127.0.0.1:0"
func (s *Server) Start(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return fmt.Errorf("websocket server already listening on %s", s.addr)
	}
	if s.closed {
		return pkgif.ErrTransportClosed
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.serveWS)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: s.cfg.HandshakeTimeout}
	s.addr = ln.Addr().String()

	srv := s.http
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.inbox.PushEvent(wire.Event{Kind: wire.EventError, Err: err})
		}
	}()

	logger.Info("WebSocket 服务端已启动", "addr", s.addr, "path", s.cfg.Path, "maxClients", s.maxClients)
	return nil
}

// serveWS 升级连接并读取 hail，审批留给 Update
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("升级 WebSocket 失败", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}
	ctrl, err := wire.DecodeControl(data)
	if err != nil || ctrl.Type != types.MessageTypeConnectionHail {
		msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "expected hail")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.pending = append(s.pending, pendingConn{conn: conn, hail: ctrl.Hail})
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
		go s.deny(p.conn, approval.Reason)
		return
	}

	sess := newSession(p.conn, id, s.inbox, s.cfg, s.sessionClosed)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	session := uuid.NewString()
	go func() {
		// 接受消息必须先于任何数据帧写出
		_ = p.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := p.conn.WriteMessage(websocket.BinaryMessage, wire.EncodeAccepted(session)); err != nil {
			sess.fail(err)
			return
		}
		sess.start()
	}()

	logger.Debug("连接已建立", "conn", id, "remote", p.conn.RemoteAddr())
	s.inbox.PushEvent(wire.Event{Kind: wire.EventConnected, Conn: id})
}

// deny 原因以普通消息送达，然后发送关闭帧并等待对端关闭
func (s *Server) deny(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, wire.EncodeFailed(reason)); err == nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, truncateReason(reason))
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
	_ = conn.Close()
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
	srv := s.http
	sessions := s.sessions
	pending := s.pending
	s.sessions = make(map[types.ConnectionID]*session)
	s.pending = nil
	s.mu.Unlock()

	var err error
	for _, id := range sortedIDs(sessions) {
		err = multierr.Append(err, sessions[id].close(websocket.CloseGoingAway, reason))
		s.inbox.Forget(id)
		s.inbox.PushEvent(wire.Event{Kind: wire.EventDisconnected, Conn: id, Reason: reason})
	}
	for _, p := range pending {
		err = multierr.Append(err, p.conn.Close())
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		err = multierr.Append(err, srv.Shutdown(ctx))
		cancel()
	}

	logger.Info("WebSocket 服务端已关闭", "addr", s.Addr(), "reason", reason)
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

	err := sess.close(websocket.CloseNormalClosure, reason)
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

// URL 返回客户端可拨号的地址
func (s *Server) URL() string {
	return "ws://" + s.Addr() + s.cfg.Path
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
