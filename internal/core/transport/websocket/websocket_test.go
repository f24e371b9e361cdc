package websocket

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

const waitFor = 5 * time.Second

func TestTruncateReason_RuneBoundary(t *testing.T) {
	r := truncateReason(strings.Repeat("拒", 100))
	assert.LessOrEqual(t, len(r), 123)
	assert.Equal(t, strings.Repeat("拒", 41), r)
	assert.Equal(t, "server full", truncateReason("server full"))
}

type events struct {
	mu           sync.Mutex
	connected    []types.ConnectionID
	session      string
	disconnected []string
	errs         []error
}

func (e *events) lock() func() {
	e.mu.Lock()
	return e.mu.Unlock
}

func (e *events) bundleServer() *pkgif.ServerNotifyBundle {
	return &pkgif.ServerNotifyBundle{
		ConnectedF: func(conn types.ConnectionID) {
			defer e.lock()()
			e.connected = append(e.connected, conn)
		},
		DisconnectedF: func(_ types.ConnectionID, reason string) {
			defer e.lock()()
			e.disconnected = append(e.disconnected, reason)
		},
	}
}

func (e *events) bundleClient() *pkgif.ClientNotifyBundle {
	return &pkgif.ClientNotifyBundle{
		ConnectedF: func(session string) {
			defer e.lock()()
			e.session = session
		},
		DisconnectedF: func(reason string) {
			defer e.lock()()
			e.disconnected = append(e.disconnected, reason)
		},
		NetworkErrorF: func(err error) {
			defer e.lock()()
			e.errs = append(e.errs, err)
		},
	}
}

func (e *events) connectedCount() int {
	defer e.lock()()
	return len(e.connected)
}

func (e *events) firstConn() types.ConnectionID {
	defer e.lock()()
	return e.connected[0]
}

func (e *events) reasons() []string {
	defer e.lock()()
	return append([]string(nil), e.disconnected...)
}

func newPair(t *testing.T, approve pkgif.ApproveFunc) (*Server, *events, *Client, *events) {
	t.Helper()
	f := NewFactory(DefaultConfig(), nil)
	s := f.CreateServer(0, types.NoLag()).(*Server)
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Shutdown("test done") })
	sev := &events{}
	s.SetNotifiee(sev.bundleServer())
	s.SetApprover(approve)

	c := f.CreateClient().(*Client)
	cev := &events{}
	c.SetNotifiee(cev.bundleClient())
	require.NoError(t, c.Connect(s.Addr(), []byte("hail")))
	t.Cleanup(func() { _ = c.Disconnect("test done") })
	return s, sev, c, cev
}

func TestClient_DialURL(t *testing.T) {
	c := NewClient(DefaultConfig(), nil)
	assert.Equal(t, "ws://127.0.0.1:9000/cube", c.dialURL("127.0.0.1:9000"))
	assert.Equal(t, "wss://example.com/x", c.dialURL("wss://example.com/x"))
}

func TestWebSocket_Traffic(t *testing.T) {
	s, sev, c, cev := newPair(t, nil)

	require.Eventually(t, func() bool {
		s.Update()
		c.Update()
		return c.IsConnected() && sev.connectedCount() == 1
	}, waitFor, 10*time.Millisecond)
	cev.mu.Lock()
	assert.NotEmpty(t, cev.session)
	cev.mu.Unlock()

	conn := sev.firstConn()
	require.NoError(t, s.Send(conn, []byte("down"), types.UnreliableSequenced, 4))
	require.Eventually(t, func() bool {
		c.Update()
		p, ok := c.Receive()
		return ok && string(p.Data) == "down" && p.Channel == 4 && p.Reliability == types.UnreliableSequenced
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, c.Send([]byte("up"), types.ReliableOrdered, 0))
	require.Eventually(t, func() bool {
		s.Update()
		p, ok := s.Receive()
		return ok && p.Connection == conn && string(p.Data) == "up"
	}, waitFor, 10*time.Millisecond)
}

func TestWebSocket_Deny(t *testing.T) {
	s, _, c, cev := newPair(t, func(types.ConnectionID, []byte) pkgif.Approval {
		return pkgif.Deny("banned")
	})

	require.Eventually(t, func() bool {
		s.Update()
		c.Update()
		return len(cev.reasons()) == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"banned"}, cev.reasons())
	cev.mu.Lock()
	require.NotEmpty(t, cev.errs)
	assert.ErrorIs(t, cev.errs[0], pkgif.ErrConnectionDenied)
	cev.mu.Unlock()
}

func TestWebSocket_ShutdownReason(t *testing.T) {
	s, sev, c, cev := newPair(t, nil)
	require.Eventually(t, func() bool {
		s.Update()
		c.Update()
		return c.IsConnected() && sev.connectedCount() == 1
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, s.Shutdown("maintenance"))
	require.Eventually(t, func() bool {
		c.Update()
		return len(cev.reasons()) == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"maintenance"}, cev.reasons())
}
