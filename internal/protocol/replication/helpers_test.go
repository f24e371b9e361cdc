package replication

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/internal/core/transport/loopback"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

const tick = time.Second / 60

// counter 测试用状态组件
type counter struct {
	value uint32
}

func (c *counter) Serialize(bs *bitstream.BitStream) error {
	bs.WriteUint32(c.value)
	return nil
}

func (c *counter) Deserialize(bs *bitstream.BitStream) error {
	v, err := bs.ReadUint32()
	if err != nil {
		return err
	}
	c.value = v
	return nil
}

// rpcLog 记录 RPC 调用
type rpcLog struct {
	calls []rpcRecord
}

type rpcRecord struct {
	id    types.ReplicaID
	from  types.ConnectionID
	value uint32
}

// newFactory 创建带 Transform + counter 组件的副本，方法 1 写入 log
func newFactory(log *rpcLog) *replica.FactoryBundle {
	return &replica.FactoryBundle{
		CreateF: func(index uint16, _ any) (*replica.Replica, error) {
			r := replica.New(index)
			if err := r.AddComponent(replica.NewTransform(r)); err != nil {
				return nil, err
			}
			if err := r.AddComponent(&counter{}); err != nil {
				return nil, err
			}
			err := r.RegisterRPC(1, func(from types.ConnectionID, args *bitstream.BitStream) error {
				v, err := args.ReadUint32()
				if err != nil {
					return err
				}
				if log != nil {
					log.calls = append(log.calls, rpcRecord{id: r.ID(), from: from, value: v})
				}
				return nil
			})
			return r, err
		},
	}
}

func counterOf(r *replica.Replica) uint32 {
	return r.Components()[1].(*counter).value
}

func setCounter(r *replica.Replica, v uint32) {
	r.Components()[1].(*counter).value = v
}

func u32(v uint32) *bitstream.BitStream {
	bs := bitstream.New(4)
	bs.WriteUint32(v)
	return bs
}

// harness 同一进程内的服务端与若干客户端，共用一个模拟时钟
type harness struct {
	t       *testing.T
	clk     *clock.Mock
	factory *loopback.Factory
	server  *Server
	clients []*Client
	rpcs    *rpcLog
	lookup  replica.TemplateLookup
	ccfg    ClientConfig
}

func newHarness(t *testing.T, scfg ServerConfig, deps ServerDeps) *harness {
	t.Helper()
	clk := clock.NewMock()
	h := &harness{
		t:       t,
		clk:     clk,
		factory: loopback.NewFactory(loopback.NewNetwork(clk)),
		rpcs:    &rpcLog{},
		ccfg:    DefaultClientConfig(),
	}
	deps.Transport = h.factory.CreateServer(0, types.NoLag())
	deps.Clock = clk
	if deps.Factory == nil {
		deps.Factory = newFactory(h.rpcs)
	}
	h.server = NewServer(scfg, deps)
	require.NoError(t, h.server.Start("arena"))
	t.Cleanup(func() { _ = h.server.Shutdown("test done") })
	return h
}

// connect 连接一个新客户端并完成握手
func (h *harness) connect() *Client {
	h.t.Helper()
	c := NewClient(h.ccfg, ClientDeps{
		Transport: h.factory.CreateClient(),
		Clock:     h.clk,
		Factory:   newFactory(h.rpcs),
		Lookup:    h.lookup,
	})
	require.NoError(h.t, c.Connect(h.server.Addr(), nil))
	h.clients = append(h.clients, c)
	h.step()
	require.True(h.t, c.IsConnected())
	return c
}

// step 不推进时钟，服务端与全部客户端各 tick 一次
func (h *harness) step() {
	h.t.Helper()
	require.NoError(h.t, h.server.Tick())
	for _, c := range h.clients {
		require.NoError(h.t, c.Tick())
	}
}

// run 以 60Hz 运行 d
func (h *harness) run(d time.Duration) {
	h.t.Helper()
	for elapsed := time.Duration(0); elapsed < d; elapsed += tick {
		h.clk.Add(tick)
		h.step()
	}
}

// body 跳过类型字节，模拟反应器交给处理器的位流
func body(data []byte) *bitstream.BitStream {
	bs := bitstream.FromBytes(data)
	_, _ = bs.ReadMessageType()
	return bs
}
