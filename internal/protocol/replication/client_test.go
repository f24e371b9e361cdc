package replication

import (
	"runtime"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-cube/internal/core/metrics"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/internal/core/transport/loopback"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

func newTestClient(t *testing.T, clk *clock.Mock, lookup replica.TemplateLookup) *Client {
	t.Helper()
	return newClientWith(t, clk, DefaultClientConfig(), newFactory(nil), lookup)
}

func newClientWith(t *testing.T, clk *clock.Mock, cfg ClientConfig, factory replica.Factory, lookup replica.TemplateLookup) *Client {
	t.Helper()
	f := loopback.NewFactory(loopback.NewNetwork(clk))
	return NewClient(cfg, ClientDeps{
		Transport: f.CreateClient(),
		Clock:     clk,
		Factory:   factory,
		Lookup:    lookup,
	})
}

// authoritative 构造服务端侧副本
func authoritative(t *testing.T, id types.ReplicaID, template uint16) *replica.Replica {
	t.Helper()
	r, err := replica.Instantiate(newFactory(nil), nil, template)
	require.NoError(t, err)
	r.AssignID(id)
	return r
}

func updateMsg(t *testing.T, rs ...*replica.Replica) []byte {
	t.Helper()
	b := newUpdateBatch(1200)
	for _, r := range rs {
		p, err := encodePayload(r)
		require.NoError(t, err)
		require.NoError(t, b.add(encodeEntry(r, false, p)))
	}
	msgs := b.messages()
	require.Len(t, msgs, 1)
	return msgs[0]
}

func destroyMsg(ids ...types.ReplicaID) []byte {
	return encodeDestroys(ids, 1200)[0]
}

func TestClient_DestroyBeforeCreate(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)
	r := authoritative(t, 7, 1)

	require.NoError(t, c.handleDestroy(body(destroyMsg(7))))
	require.NoError(t, c.handleUpdate(body(updateMsg(t, r))))
	assert.False(t, c.Scene().Contains(7), "late update must not resurrect a destroyed id")

	clk.Add(5 * time.Second)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, r))))
	assert.False(t, c.Scene().Contains(7))

	// 墓碑期过后 ID 可以重新使用
	clk.Add(c.Config().TombstoneTTL)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, r))))
	assert.True(t, c.Scene().Contains(7))
}

func TestClient_DestroyIsIdempotent(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, authoritative(t, 2, 1)))))
	require.True(t, c.Scene().Contains(2))

	require.NoError(t, c.handleDestroy(body(destroyMsg(2, 3))))
	require.NoError(t, c.handleDestroy(body(destroyMsg(2, 3))))
	assert.Zero(t, c.Scene().Len())
}

func TestClient_InactivityTimeout(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)
	scene := replica.NewScene(0)
	require.NoError(t, c.RegisterSceneReplicas([]*replica.Replica{scene}))

	require.NoError(t, c.handleUpdate(body(updateMsg(t, authoritative(t, 9, 1)))))
	require.True(t, c.Scene().Contains(9))

	clk.Add(c.Config().InactivityTimeout)
	require.NoError(t, c.Tick())
	assert.True(t, c.Scene().Contains(9))

	clk.Add(time.Millisecond)
	require.NoError(t, c.Tick())
	assert.False(t, c.Scene().Contains(9))
	assert.True(t, c.Scene().Contains(0), "scene replicas never expire")
}

func TestClient_TimeoutRacesLateUpdate(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)
	r := authoritative(t, 4, 1)

	require.NoError(t, c.handleUpdate(body(updateMsg(t, r))))
	clk.Add(c.Config().InactivityTimeout + time.Millisecond)
	require.NoError(t, c.Tick())
	require.False(t, c.Scene().Contains(4))

	// 超时销毁后立即到达的迟到更新被忽略
	require.NoError(t, c.handleUpdate(body(updateMsg(t, r))))
	assert.False(t, c.Scene().Contains(4))

	// 宽限期过后服务端的新状态重新创建镜像
	clk.Add(c.Config().ExpiredGrace)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, r))))
	assert.True(t, c.Scene().Contains(4))
}

func TestClient_UnknownTemplateDropsSingleEntry(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, replica.TemplateMap{1: "crate"})

	bad := authoritative(t, 4, 2)
	good := authoritative(t, 5, 1)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, bad, good))))

	assert.False(t, c.Scene().Contains(4))
	m, ok := c.Get(5)
	require.True(t, ok)
	assert.Equal(t, uint16(1), m.TemplateIndex())
}

func TestClient_UnknownSceneIDDropped(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)

	door := replica.NewScene(3)
	require.NoError(t, door.AddComponent(replica.NewTransform(door)))
	require.NoError(t, c.handleUpdate(body(updateMsg(t, door))))
	assert.Zero(t, c.Scene().Len())
}

func TestClient_StateApplied(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)

	r := authoritative(t, 11, 1)
	r.SetPosition(types.Vec3{X: 1, Y: 2, Z: 3})
	setCounter(r, 99)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, r))))

	m, ok := c.Get(11)
	require.True(t, ok)
	assert.Equal(t, r.Position(), m.Position())
	assert.Equal(t, uint32(99), counterOf(m))
	last, ok := c.LastUpdate(11)
	require.True(t, ok)
	assert.Equal(t, clk.Now(), last)
}

func TestClient_OwnedFlag(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)

	r := authoritative(t, 1, 1)
	p, err := encodePayload(r)
	require.NoError(t, err)
	b := newUpdateBatch(1200)
	require.NoError(t, b.add(encodeEntry(r, true, p)))
	require.NoError(t, c.handleUpdate(body(b.messages()[0])))

	m, ok := c.Get(1)
	require.True(t, ok)
	assert.True(t, m.IsOwner())
}

func TestClient_BadPayloadDoesNotLeaveMirror(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)

	// 负载只有 8 位，不足以反序列化组件
	short := replica.New(1)
	short.AssignID(6)
	require.NoError(t, short.AddComponent(&tinyComponent{}))
	require.NoError(t, c.handleUpdate(body(updateMsg(t, short))))
	assert.False(t, c.Scene().Contains(6))
}

type tinyComponent struct{}

func (tinyComponent) Serialize(bs *bitstream.BitStream) error {
	bs.WriteUint8(1)
	return nil
}

func (tinyComponent) Deserialize(bs *bitstream.BitStream) error {
	_, err := bs.ReadUint8()
	return err
}

func TestClient_IDReuseReplacesMirror(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)

	require.NoError(t, c.handleUpdate(body(updateMsg(t, authoritative(t, 4, 1)))))
	first, _ := c.Get(4)

	require.NoError(t, c.handleUpdate(body(updateMsg(t, authoritative(t, 4, 2)))))
	second, ok := c.Get(4)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, uint16(2), second.TemplateIndex())
}

func TestClient_TruncatedUpdate(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)

	data := updateMsg(t, authoritative(t, 1, 1), authoritative(t, 2, 1))
	err := c.handleUpdate(body(data[:len(data)-10]))
	assert.ErrorIs(t, err, ErrMalformedMessage)
	// 第一个条目完整，已被应用
	assert.True(t, c.Scene().Contains(1))
	assert.False(t, c.Scene().Contains(2))

	assert.ErrorIs(t, c.handleUpdate(body([]byte{byte(types.MessageTypeReplicaUpdate)})), ErrMalformedMessage)
	assert.ErrorIs(t, c.handleDestroy(body([]byte{byte(types.MessageTypeReplicaDestroy), 5, 0})), ErrMalformedMessage)
}

// transformOnly 镜像只有 Transform，比服务端少一个 counter 组件
func transformOnly() *replica.FactoryBundle {
	return &replica.FactoryBundle{
		CreateF: func(index uint16, _ any) (*replica.Replica, error) {
			r := replica.New(index)
			return r, r.AddComponent(replica.NewTransform(r))
		},
	}
}

func TestClient_ComponentLayoutMismatch(t *testing.T) {
	clk := clock.NewMock()
	c := newClientWith(t, clk, DefaultClientConfig(), transformOnly(), nil)

	r := authoritative(t, 8, 1)
	setCounter(r, 42)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, r))))
	assert.False(t, c.Scene().Contains(8), "mirror with a different component list must not be kept")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.collector.Dropped.WithLabelValues(metrics.DropLayoutMismatch)))

	// 已存在的镜像：更新被丢弃，不刷新活跃时间
	plain := replica.New(1)
	plain.AssignID(9)
	require.NoError(t, plain.AddComponent(replica.NewTransform(plain)))
	require.NoError(t, c.handleUpdate(body(updateMsg(t, plain))))
	require.True(t, c.Scene().Contains(9))
	before, _ := c.LastUpdate(9)

	clk.Add(time.Second)
	wide := authoritative(t, 9, 1)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, wide))))
	after, ok := c.LastUpdate(9)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.collector.Dropped.WithLabelValues(metrics.DropLayoutMismatch)))
}

func TestClient_FailedUpdateKeepsOwnership(t *testing.T) {
	clk := clock.NewMock()
	c := newTestClient(t, clk, nil)
	require.NoError(t, c.handleUpdate(body(updateMsg(t, authoritative(t, 6, 1)))))
	m, ok := c.Get(6)
	require.True(t, ok)
	require.False(t, m.IsOwner())

	// 同模板但负载只有 8 位，反序列化失败
	short := replica.New(1)
	short.AssignID(6)
	require.NoError(t, short.AddComponent(&tinyComponent{}))
	p, err := encodePayload(short)
	require.NoError(t, err)
	b := newUpdateBatch(1200)
	require.NoError(t, b.add(encodeEntry(short, true, p)))
	require.NoError(t, c.handleUpdate(body(b.messages()[0])))

	m, ok = c.Get(6)
	require.True(t, ok)
	assert.False(t, m.IsOwner(), "ownership must only change with a successfully applied update")
}

func TestClient_TombstoneEvictionCounted(t *testing.T) {
	clk := clock.NewMock()
	cfg := DefaultClientConfig()
	cfg.TombstoneCapacity = 2
	c := newClientWith(t, clk, cfg, newFactory(nil), nil)

	require.NoError(t, c.handleDestroy(body(destroyMsg(1, 2, 3))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.collector.TombstonesLost))

	// 最旧的墓碑被淘汰，其余仍拦截迟到更新
	require.NoError(t, c.handleUpdate(body(updateMsg(t, authoritative(t, 1, 1), authoritative(t, 3, 1)))))
	assert.True(t, c.Scene().Contains(1))
	assert.False(t, c.Scene().Contains(3))
}

func TestClient_NoBackgroundGoroutines(t *testing.T) {
	clk := clock.NewMock()
	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		newTestClient(t, clk, nil)
	}
	assert.Less(t, runtime.NumGoroutine()-before, 50)
}
