package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-cube/internal/core/replica"
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

func TestRPC_ServerToOwner(t *testing.T) {
	h := newHarness(t, DefaultServerConfig(), ServerDeps{})
	h.connect()
	conn := h.server.Observers()[0]

	r, err := h.server.Instantiate(1)
	require.NoError(t, err)
	assert.ErrorIs(t, h.server.SendRPC(r, 1, u32(1), types.ReliableOrdered), ErrNoOwner)

	r.SetOwner(conn)
	h.run(50 * time.Millisecond)
	require.NoError(t, h.server.SendRPC(r, 1, u32(42), types.ReliableOrdered))
	h.step()

	require.Len(t, h.rpcs.calls, 1)
	assert.Equal(t, rpcRecord{id: r.ID(), from: types.InvalidConnectionID, value: 42}, h.rpcs.calls[0])
}

func TestRPC_MissingMirrorDroppedAndReactorContinues(t *testing.T) {
	h := newHarness(t, DefaultServerConfig(), ServerDeps{})
	c := h.connect()

	far, err := h.server.Instantiate(1)
	require.NoError(t, err)
	far.SetPosition(types.Vec3{X: 9000})
	near, err := h.server.Instantiate(1)
	require.NoError(t, err)
	h.run(50 * time.Millisecond)
	require.False(t, c.Scene().Contains(far.ID()))

	require.NoError(t, h.server.BroadcastRPC(far, 1, u32(1), types.ReliableOrdered))
	require.NoError(t, h.server.BroadcastRPC(near, 1, u32(2), types.ReliableOrdered))
	h.step()

	require.Len(t, h.rpcs.calls, 1)
	assert.Equal(t, near.ID(), h.rpcs.calls[0].id)
	assert.Zero(t, c.Reactor().Stats().HandlerErrors)
}

func TestRPC_SendTo(t *testing.T) {
	h := newHarness(t, DefaultServerConfig(), ServerDeps{})
	h.connect()
	h.connect()
	conns := h.server.Observers()

	r, err := h.server.Instantiate(1)
	require.NoError(t, err)
	h.run(50 * time.Millisecond)

	require.NoError(t, h.server.SendRPCTo(conns[1], r, 1, u32(5), types.ReliableUnordered))
	h.step()
	require.Len(t, h.rpcs.calls, 1)

	assert.ErrorIs(t, h.server.SendRPCTo(999, r, 1, nil, types.ReliableOrdered), pkgif.ErrUnknownConnection)
}

func TestRPC_ClientToServerOwnerOnly(t *testing.T) {
	h := newHarness(t, DefaultServerConfig(), ServerDeps{})
	owner := h.connect()
	other := h.connect()
	conns := h.server.Observers()

	r, err := h.server.Instantiate(1)
	require.NoError(t, err)
	r.SetOwner(conns[0])
	h.run(50 * time.Millisecond)

	mine, ok := owner.Get(r.ID())
	require.True(t, ok)
	require.NoError(t, owner.SendRPC(mine, 1, u32(7), types.ReliableOrdered))

	theirs, ok := other.Get(r.ID())
	require.True(t, ok)
	assert.ErrorIs(t, other.SendRPC(theirs, 1, u32(8), types.ReliableOrdered), ErrNotOwner)

	h.step()
	require.Len(t, h.rpcs.calls, 1)
	assert.Equal(t, rpcRecord{id: r.ID(), from: conns[0], value: 7}, h.rpcs.calls[0])

	// 伪造的非拥有者调用在服务端被拒绝
	data, err := encodeRPC(r.ID(), 1, u32(9))
	require.NoError(t, err)
	assert.ErrorIs(t, h.server.handleRPC(conns[1], body(data)), ErrNotOwner)
	assert.Len(t, h.rpcs.calls, 1)
}

func TestRPC_UnknownMethod(t *testing.T) {
	h := newHarness(t, DefaultServerConfig(), ServerDeps{})
	c := h.connect()
	conn := h.server.Observers()[0]

	r, err := h.server.Instantiate(1)
	require.NoError(t, err)
	r.SetOwner(conn)
	h.run(50 * time.Millisecond)

	require.NoError(t, h.server.SendRPC(r, 77, nil, types.ReliableOrdered))
	h.step()
	assert.Empty(t, h.rpcs.calls)
	assert.Equal(t, uint64(1), c.Reactor().Stats().HandlerErrors)
}

func TestRPC_UnregisteredReplica(t *testing.T) {
	h := newHarness(t, DefaultServerConfig(), ServerDeps{})
	loose := replica.New(1)
	loose.AssignID(3)

	assert.ErrorIs(t, h.server.BroadcastRPC(loose, 1, nil, types.ReliableOrdered), ErrUnknownReplica)
	assert.ErrorIs(t, h.server.SendRPCTo(1, nil, 1, nil, types.ReliableOrdered), ErrUnknownReplica)

	c := h.connect()
	assert.ErrorIs(t, c.SendRPC(loose, 1, nil, types.ReliableOrdered), ErrUnknownReplica)
}
