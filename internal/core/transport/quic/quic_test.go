package quic

import (
	"bufio"
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

const waitFor = 5 * time.Second

type recorder struct {
	mu           sync.Mutex
	connected    []types.ConnectionID
	session      string
	disconnected []string
	errs         []error
}

func (r *recorder) server() *pkgif.ServerNotifyBundle {
	return &pkgif.ServerNotifyBundle{
		ConnectedF: func(conn types.ConnectionID) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connected = append(r.connected, conn)
		},
		DisconnectedF: func(_ types.ConnectionID, reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.disconnected = append(r.disconnected, reason)
		},
	}
}

func (r *recorder) client() *pkgif.ClientNotifyBundle {
	return &pkgif.ClientNotifyBundle{
		ConnectedF: func(session string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.session = session
		},
		DisconnectedF: func(reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.disconnected = append(r.disconnected, reason)
		},
		NetworkErrorF: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		connected:    append([]types.ConnectionID(nil), r.connected...),
		session:      r.session,
		disconnected: append([]string(nil), r.disconnected...),
		errs:         append([]error(nil), r.errs...),
	}
}

func startServer(t *testing.T, maxClients int) *Server {
	t.Helper()
	f := NewFactory(DefaultConfig(), nil)
	s := f.CreateServer(maxClients, types.NoLag()).(*Server)
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Shutdown("test done") })
	return s
}

func connect(t *testing.T, s *Server, hail []byte) (*Client, *recorder) {
	t.Helper()
	c := NewClient(DefaultConfig(), nil)
	rec := &recorder{}
	c.SetNotifiee(rec.client())
	require.NoError(t, c.Connect(s.Addr(), hail))
	t.Cleanup(func() { _ = c.Disconnect("test done") })
	return c, rec
}

func TestFraming_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("abc")))
	require.NoError(t, writeFrame(&buf, nil))

	r := bufio.NewReader(&buf)
	f, err := readFrame(r, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), f)
	f, err = readFrame(r, 16)
	require.NoError(t, err)
	assert.Empty(t, f)
}

func TestFraming_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, make([]byte, 32)))
	_, err := readFrame(bufio.NewReader(&buf), 16)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestQUIC_HandshakeAndTraffic(t *testing.T) {
	s := startServer(t, 0)
	srec := &recorder{}
	s.SetNotifiee(srec.server())

	var hail []byte
	var hailMu sync.Mutex
	s.SetApprover(func(_ types.ConnectionID, h []byte) pkgif.Approval {
		hailMu.Lock()
		defer hailMu.Unlock()
		hail = h
		return pkgif.Accept()
	})

	c, crec := connect(t, s, []byte("hello"))

	require.Eventually(t, func() bool {
		s.Update()
		c.Update()
		return c.IsConnected() && len(srec.snapshot().connected) == 1
	}, waitFor, 10*time.Millisecond)

	hailMu.Lock()
	assert.Equal(t, []byte("hello"), hail)
	hailMu.Unlock()
	assert.NotEmpty(t, crec.snapshot().session)
	conn := srec.snapshot().connected[0]

	// 可靠有序：顺序保持
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Send(conn, []byte{byte(i)}, types.ReliableOrdered, 1))
	}
	var got []byte
	require.Eventually(t, func() bool {
		c.Update()
		for {
			p, ok := c.Receive()
			if !ok {
				break
			}
			assert.Equal(t, types.ReliableOrdered, p.Reliability)
			got = append(got, p.Data[0])
		}
		return len(got) == 10
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)

	// 客户端到服务端
	require.NoError(t, c.Send([]byte("up"), types.ReliableUnordered, 0))
	require.Eventually(t, func() bool {
		s.Update()
		p, ok := s.Receive()
		return ok && p.Connection == conn && string(p.Data) == "up"
	}, waitFor, 10*time.Millisecond)
}

func TestQUIC_DenyDeliversReason(t *testing.T) {
	s := startServer(t, 0)
	s.SetApprover(func(types.ConnectionID, []byte) pkgif.Approval {
		return pkgif.Deny("bad token")
	})

	c, crec := connect(t, s, nil)
	require.Eventually(t, func() bool {
		s.Update()
		c.Update()
		return len(crec.snapshot().disconnected) == 1
	}, waitFor, 10*time.Millisecond)

	snap := crec.snapshot()
	assert.Equal(t, "bad token", snap.disconnected[0])
	require.NotEmpty(t, snap.errs)
	assert.ErrorIs(t, snap.errs[0], pkgif.ErrConnectionDenied)
	assert.False(t, c.IsConnected())
}

func TestQUIC_ServerDisconnect(t *testing.T) {
	s := startServer(t, 0)
	srec := &recorder{}
	s.SetNotifiee(srec.server())
	c, crec := connect(t, s, nil)

	require.Eventually(t, func() bool {
		s.Update()
		c.Update()
		return c.IsConnected() && len(srec.snapshot().connected) == 1
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, s.Disconnect(srec.snapshot().connected[0], "kicked"))
	require.Eventually(t, func() bool {
		c.Update()
		return len(crec.snapshot().disconnected) == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "kicked", crec.snapshot().disconnected[0])
}

func TestQUIC_SendErrors(t *testing.T) {
	s := startServer(t, 0)
	assert.ErrorIs(t, s.Send(42, []byte{1}, types.Unreliable, 0), pkgif.ErrUnknownConnection)
	assert.ErrorIs(t, s.Send(42, []byte{1}, types.Unreliable, 40), pkgif.ErrInvalidChannel)

	c := NewClient(DefaultConfig(), nil)
	assert.ErrorIs(t, c.Send([]byte{1}, types.Unreliable, 0), pkgif.ErrNotConnected)
	assert.ErrorIs(t, c.Disconnect("x"), pkgif.ErrNotConnected)
}
