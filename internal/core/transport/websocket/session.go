package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-cube/internal/core/transport/wire"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

// session 一个已完成握手的 WebSocket 连接
type session struct {
	conn  *websocket.Conn
	id    types.ConnectionID
	inbox *wire.Inbox
	cfg   Config

	outbox chan []byte

	seqMu sync.Mutex
	seq   wire.Sequencer

	ctx    context.Context
	cancel context.CancelFunc

	once     sync.Once
	onClosed func(s *session, reason string)
}

func newSession(conn *websocket.Conn, id types.ConnectionID, inbox *wire.Inbox, cfg Config, onClosed func(*session, string)) *session {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(cfg.MaxMessageSize)
	return &session{
		conn:     conn,
		id:       id,
		inbox:    inbox,
		cfg:      cfg,
		outbox:   make(chan []byte, cfg.SendQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		onClosed: onClosed,
	}
}

func (s *session) start() {
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.writeLoop(ctx) })
	g.Go(s.readLoop)
	go func() {
		err := g.Wait()
		s.fail(err)
	}()
}

func (s *session) send(data []byte, rel types.Reliability, ch types.Channel) error {
	s.seqMu.Lock()
	h := wire.Header{Reliability: rel, Channel: ch, Sequence: s.seq.Next(rel, ch)}
	s.seqMu.Unlock()

	frame := wire.EncodeFrame(h, data)
	select {
	case <-s.ctx.Done():
		return pkgif.ErrUnknownConnection
	case s.outbox <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// close 本地主动关闭，发送带原因的关闭帧，不触发 onClosed
func (s *session) close(code int, reason string) error {
	var err error
	s.once.Do(func() {
		s.cancel()
		msg := websocket.FormatCloseMessage(code, truncateReason(reason))
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
		err = s.conn.Close()
	})
	return err
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.Close()
		reason := reasonFrom(err)
		if s.onClosed != nil {
			s.onClosed(s, reason)
		}
	})
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-s.outbox:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return err
			}
		}
	}
}

func (s *session) readLoop() error {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		h, payload, err := wire.DecodeFrame(data)
		if err != nil {
			logger.Debug("丢弃无法解析的帧", "conn", s.id, "error", err)
			continue
		}
		s.inbox.PushPacket(pkgif.Packet{Connection: s.id, Data: payload}, h)
	}
}

// reasonFrom 从关闭错误中提取对端给出的原因
func reasonFrom(err error) string {
	if err == nil {
		return "connection closed"
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return "connection closed"
	}
	return err.Error()
}

// truncateReason 关闭帧负载最多 125 字节，其中 2 字节为关闭码
func truncateReason(reason string) string {
	return wire.TruncateUTF8(reason, 123)
}
