package quic

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-cube/internal/core/transport/wire"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

// 应用层关闭码
const (
	codeNormal   quic.ApplicationErrorCode = 0
	codeDenied   quic.ApplicationErrorCode = 1
	codeShutdown quic.ApplicationErrorCode = 2
	codeProtocol quic.ApplicationErrorCode = 3
)

type outFrame struct {
	header  wire.Header
	payload []byte
}

type streamKey struct {
	rel types.Reliability
	ch  types.Channel
}

// session 一个已完成握手的 QUIC 连接
//
// send 只负责入队；writeLoop 独占所有发送流。
type session struct {
	conn  *quic.Conn
	id    types.ConnectionID
	inbox *wire.Inbox
	cfg   Config

	outbox chan outFrame

	seqMu sync.Mutex
	seq   wire.Sequencer

	ctx    context.Context
	cancel context.CancelFunc

	once     sync.Once
	onClosed func(s *session, reason string)
}

func newSession(conn *quic.Conn, id types.ConnectionID, inbox *wire.Inbox, cfg Config, onClosed func(*session, string)) *session {
	ctx, cancel := context.WithCancel(conn.Context())
	return &session{
		conn:     conn,
		id:       id,
		inbox:    inbox,
		cfg:      cfg,
		outbox:   make(chan outFrame, cfg.SendQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		onClosed: onClosed,
	}
}

// start 启动读写 goroutine
func (s *session) start() {
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.writeLoop(ctx) })
	g.Go(func() error { return s.datagramLoop(ctx) })
	g.Go(func() error { return s.acceptLoop(ctx, g) })
	go func() {
		err := g.Wait()
		s.fail(err)
	}()
}

// send 入队一个帧，队列满时返回 ErrSendQueueFull
func (s *session) send(data []byte, rel types.Reliability, ch types.Channel) error {
	s.seqMu.Lock()
	h := wire.Header{Reliability: rel, Channel: ch, Sequence: s.seq.Next(rel, ch)}
	s.seqMu.Unlock()

	payload := make([]byte, len(data))
	copy(payload, data)

	select {
	case <-s.ctx.Done():
		return pkgif.ErrUnknownConnection
	case s.outbox <- outFrame{header: h, payload: payload}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// close 本地主动关闭，不触发 onClosed
func (s *session) close(code quic.ApplicationErrorCode, reason string) error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.conn.CloseWithError(code, reason)
	})
	return err
}

// fail 读写出错或对端关闭
func (s *session) fail(err error) {
	s.once.Do(func() {
		s.cancel()
		reason := reasonFrom(err)
		_ = s.conn.CloseWithError(codeProtocol, reason)
		if s.onClosed != nil {
			s.onClosed(s, reason)
		}
	})
}

// ============================================================================
//                              写
// ============================================================================

func (s *session) writeLoop(ctx context.Context) error {
	streams := make(map[streamKey]io.WriteCloser)
	defer func() {
		for _, st := range streams {
			_ = st.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-s.outbox:
			if err := s.write(ctx, streams, f); err != nil {
				return err
			}
		}
	}
}

func (s *session) write(ctx context.Context, streams map[streamKey]io.WriteCloser, f outFrame) error {
	frame := wire.EncodeFrame(f.header, f.payload)

	switch {
	case !f.header.Reliability.IsReliable():
		err := s.conn.SendDatagram(frame)
		var tooLarge *quic.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			return s.writeOnce(ctx, frame)
		}
		if err != nil {
			logger.Debug("发送数据报失败", "conn", s.id, "error", err)
		}
		return nil

	case f.header.Reliability.IsOrdered():
		k := streamKey{rel: f.header.Reliability, ch: f.header.Channel}
		st, ok := streams[k]
		if !ok {
			opened, err := s.conn.OpenUniStreamSync(ctx)
			if err != nil {
				return err
			}
			st = opened
			streams[k] = st
		}
		return writeFrame(st, frame)

	default:
		return s.writeOnce(ctx, frame)
	}
}

// writeOnce 使用一次性单向流发送
func (s *session) writeOnce(ctx context.Context, frame []byte) error {
	st, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return err
	}
	if err := writeFrame(st, frame); err != nil {
		return err
	}
	return st.Close()
}

// ============================================================================
//                              读
// ============================================================================

func (s *session) datagramLoop(ctx context.Context) error {
	for {
		data, err := s.conn.ReceiveDatagram(ctx)
		if err != nil {
			return err
		}
		s.push(data)
	}
}

func (s *session) acceptLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		st, err := s.conn.AcceptUniStream(ctx)
		if err != nil {
			return err
		}
		r := bufio.NewReader(st)
		g.Go(func() error { return s.readStream(r) })
	}
}

func (s *session) readStream(r *bufio.Reader) error {
	for {
		frame, err := readFrame(r, s.cfg.MaxFrameSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s.push(frame)
	}
}

func (s *session) push(frame []byte) {
	h, payload, err := wire.DecodeFrame(frame)
	if err != nil {
		logger.Debug("丢弃无法解析的帧", "conn", s.id, "error", err)
		return
	}
	s.inbox.PushPacket(pkgif.Packet{Connection: s.id, Data: payload}, h)
}

// reasonFrom 从关闭错误中提取对端给出的原因
func reasonFrom(err error) string {
	if err == nil {
		return "connection closed"
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorMessage != "" {
		return appErr.ErrorMessage
	}
	var idle *quic.IdleTimeoutError
	if errors.As(err, &idle) {
		return "timeout"
	}
	return err.Error()
}
