package cube

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/core/transport/loopback"
)

func testFactory() *FactoryBundle {
	return &FactoryBundle{
		CreateF: func(index uint16, _ any) (*Replica, error) {
			r := NewReplica(index)
			return r, r.AddComponent(NewTransform(r))
		},
	}
}

// env 共享同一个 loopback 网络与模拟时钟
type env struct {
	clk     *clock.Mock
	network *loopback.Network
}

func newEnv() *env {
	clk := clock.NewMock()
	return &env{clk: clk, network: loopback.NewNetwork(clk)}
}

func (e *env) opts(extra ...Option) []Option {
	return append([]Option{
		WithPreset(PresetTest),
		WithClock(e.clk),
		WithLoopbackNetwork(e.network),
		WithFactory(testFactory()),
	}, extra...)
}

func (e *env) server(t *testing.T, extra ...Option) *Server {
	t.Helper()
	s, err := StartServer(context.Background(), "arena", e.opts(extra...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (e *env) client(t *testing.T, hail []byte) *Client {
	t.Helper()
	c, err := NewClient(e.opts()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect(context.Background(), "arena", hail))
	return c
}

func step(t *testing.T, s *Server, cs ...*Client) {
	t.Helper()
	require.NoError(t, s.Tick())
	for _, c := range cs {
		require.NoError(t, c.Tick())
	}
}

func TestServerClient_Replicates(t *testing.T) {
	e := newEnv()
	srv := e.server(t)
	cli := e.client(t, nil)

	step(t, srv, cli)
	require.True(t, cli.IsConnected())
	assert.NotEmpty(t, cli.Session())
	require.Len(t, srv.Connections(), 1)

	r, err := srv.Instantiate(1)
	require.NoError(t, err)
	r.SetPosition(Vec3{X: 4, Z: -2})
	step(t, srv, cli)

	m, ok := cli.Get(r.ID())
	require.True(t, ok)
	assert.Equal(t, r.Position(), m.Position())
	assert.Equal(t, 1, cli.ReplicaCount())

	require.NoError(t, srv.Destroy(r))
	step(t, srv, cli)
	assert.Zero(t, cli.ReplicaCount())
	assert.Zero(t, srv.ReplicaCount())

	t.Log("✅ 副本创建、更新、销毁同步到客户端")
}

func TestServer_Lifecycle(t *testing.T) {
	e := newEnv()
	s, err := NewServer(e.opts()...)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())
	assert.ErrorIs(t, s.Tick(), ErrNotStarted)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx, "arena"))
	assert.Equal(t, StateRunning, s.State())
	assert.ErrorIs(t, s.Start(ctx, "arena"), ErrAlreadyStarted)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, "closed", s.State().String())
	assert.ErrorIs(t, s.Start(ctx, "arena"), ErrClosed)
}

func TestClient_Lifecycle(t *testing.T) {
	e := newEnv()
	c, err := NewClient(e.opts()...)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Tick(), ErrNotConnected)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Connect(context.Background(), "arena", nil), ErrClosed)
}

func TestServer_Approver(t *testing.T) {
	e := newEnv()
	srv := e.server(t, WithApprover(func(_ ConnectionID, hail []byte) Approval {
		fields, err := DecodeHail(hail)
		if err != nil || fields["name"] != "alice" {
			return Deny("who are you")
		}
		return Accept()
	}))

	hail, err := EncodeHail(map[string]any{"name": "mallory"})
	require.NoError(t, err)
	bad := e.client(t, hail)

	var (
		reason string
		netErr error
	)
	bad.SetNotifiee(&ClientNotifyBundle{
		DisconnectedF: func(r string) { reason = r },
		NetworkErrorF: func(err error) { netErr = err },
	})

	hail, err = EncodeHail(map[string]any{"name": "alice"})
	require.NoError(t, err)
	good := e.client(t, hail)

	step(t, srv, bad, good)
	assert.False(t, bad.IsConnected())
	assert.Equal(t, "who are you", reason)
	assert.ErrorIs(t, netErr, ErrConnectionDenied)
	var denied *DeniedError
	require.True(t, errors.As(netErr, &denied))
	assert.Equal(t, "who are you", denied.Reason)

	assert.True(t, good.IsConnected())
	assert.Len(t, srv.Connections(), 1)
}

func TestServer_RPCRoundTrip(t *testing.T) {
	e := newEnv()
	var got []uint32
	factory := &FactoryBundle{
		CreateF: func(index uint16, _ any) (*Replica, error) {
			r := NewReplica(index)
			if err := r.AddComponent(NewTransform(r)); err != nil {
				return nil, err
			}
			return r, r.RegisterRPC(3, func(_ ConnectionID, args *BitStream) error {
				v, err := args.ReadUint32()
				got = append(got, v)
				return err
			})
		},
	}
	srv := e.server(t, WithFactory(factory))
	c, err := NewClient(append(e.opts(), WithFactory(factory))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect(context.Background(), "arena", nil))
	step(t, srv, c)

	r, err := srv.Instantiate(1)
	require.NoError(t, err)
	r.SetOwner(srv.Connections()[0])
	step(t, srv, c)

	args := NewBitStream(4)
	args.WriteUint32(11)
	require.NoError(t, srv.SendRPC(r, 3, args, ReliableOrdered))
	step(t, srv, c)
	require.Equal(t, []uint32{11}, got)

	mirror, ok := c.Get(r.ID())
	require.True(t, ok)
	require.True(t, mirror.IsOwner())
	args = NewBitStream(4)
	args.WriteUint32(22)
	require.NoError(t, c.SendRPC(mirror, 3, args, ReliableOrdered))
	step(t, srv, c)
	assert.Equal(t, []uint32{11, 22}, got)
}

func TestServer_ObserverPosition(t *testing.T) {
	e := newEnv()
	srv := e.server(t)
	cli := e.client(t, nil)
	step(t, srv, cli)
	conn := srv.Connections()[0]

	far, err := srv.Instantiate(1)
	require.NoError(t, err)
	far.SetPosition(Vec3{X: 5000})
	step(t, srv, cli)
	assert.Zero(t, cli.ReplicaCount())

	require.NoError(t, srv.SetObserverPosition(conn, Vec3{X: 5000}))
	step(t, srv, cli)
	assert.Equal(t, 1, cli.ReplicaCount())
}

func TestRun_StopsWithContext(t *testing.T) {
	e := newEnv()
	srv := e.server(t)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, func() error {
			ticks++
			if ticks == 3 {
				cancel()
			}
			return nil
		})
	}()

	// 模拟时钟推进直到循环退出
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.GreaterOrEqual(t, ticks, 3)
			return
		default:
			e.clk.Add(time.Second / 60)
		}
	}
}

func TestOptions(t *testing.T) {
	_, err := NewServer(WithPreset("moon"))
	assert.Error(t, err)

	_, err = NewServer(WithConfig(nil))
	assert.Error(t, err)

	bad := config.NewConfig()
	bad.Server.TickRate = 0
	_, err = NewServer(WithConfig(bad))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := config.NewConfig()
	cfg.Transport.Backend = config.BackendLoopback
	reg := prometheus.NewRegistry()
	s, err := NewServer(WithConfig(cfg), WithMetricsRegisterer(reg), WithFactory(testFactory()))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), "metrics-arena"))
	defer s.Close()
	require.NoError(t, s.Tick())

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	cfg.Server.TickRate = 1
	assert.Equal(t, 60, s.Config().Server.TickRate, "options copy the config")
}

func TestVersionInfo(t *testing.T) {
	assert.Contains(t, VersionInfo(), Version)
}
