package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/pkg/types"
)

func dynamic(t *testing.T, s *Scene) *replica.Replica {
	t.Helper()
	id, err := s.Allocate()
	require.NoError(t, err)
	r := replica.New(1)
	r.AssignID(id)
	require.NoError(t, s.Add(r))
	return r
}

func TestScene_AddGetRemove(t *testing.T) {
	s := New()
	r := dynamic(t, s)

	got, ok := s.Get(r.ID())
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.True(t, r.Sealed())
	assert.Equal(t, 1, s.Len())

	removed, ok := s.Remove(r.ID())
	assert.True(t, ok)
	assert.Same(t, r, removed)
	assert.False(t, s.Contains(r.ID()))

	_, ok = s.Remove(r.ID())
	assert.False(t, ok)
}

func TestScene_DuplicateAndInvalid(t *testing.T) {
	s := New()
	a := replica.New(1)
	a.AssignID(5)
	require.NoError(t, s.Add(a))

	b := replica.New(2)
	b.AssignID(5)
	assert.ErrorIs(t, s.Add(b), ErrDuplicateReplicaID)
	// 失败的登记不修改注册表
	got, _ := s.Get(5)
	assert.Same(t, a, got)
	assert.False(t, b.Sealed())

	assert.ErrorIs(t, s.Add(replica.New(3)), ErrInvalidReplicaID)
	assert.Panics(t, func() { s.MustAdd(b) })
}

func TestScene_AllocateSkipsUsed(t *testing.T) {
	s := New()
	require.NoError(t, s.AddScene([]*replica.Replica{replica.NewScene(0), replica.NewScene(1)}))

	id, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaID(2), id)

	// 刚释放的 ID 不会立即复用
	r := replica.New(1)
	r.AssignID(id)
	require.NoError(t, s.Add(r))
	s.Remove(id)
	next, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaID(3), next)
}

func TestScene_AllocateWrapsAndNeverInvalid(t *testing.T) {
	s := New()
	s.next = types.InvalidReplicaID - 1

	id, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, types.InvalidReplicaID-1, id)

	id, err = s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaID(0), id)
}

func TestScene_AllocateExhausted(t *testing.T) {
	s := New()
	for i := 0; i < idSpace; i++ {
		s.replicas[types.ReplicaID(i)] = replica.New(0)
	}
	_, err := s.Allocate()
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestScene_AddSceneAtomic(t *testing.T) {
	s := New()
	taken := replica.New(1)
	taken.AssignID(4)
	require.NoError(t, s.Add(taken))

	err := s.AddScene([]*replica.Replica{replica.NewScene(3), replica.NewScene(4)})
	assert.ErrorIs(t, err, ErrDuplicateReplicaID)
	assert.False(t, s.Contains(3))

	err = s.AddScene([]*replica.Replica{replica.NewScene(7), replica.NewScene(7)})
	assert.ErrorIs(t, err, ErrDuplicateReplicaID)

	err = s.AddScene([]*replica.Replica{replica.New(1)})
	assert.ErrorIs(t, err, ErrNotSceneReplica)
	assert.Equal(t, 1, s.Len())
}

func TestScene_OrderedIteration(t *testing.T) {
	s := New()
	for _, id := range []types.ReplicaID{9, 2, 40, 5} {
		require.NoError(t, s.Add(replica.NewScene(id)))
	}
	assert.Equal(t, []types.ReplicaID{2, 5, 9, 40}, s.IDs())

	var visited []types.ReplicaID
	s.Range(func(r *replica.Replica) bool {
		visited = append(visited, r.ID())
		s.Remove(r.ID()) // 遍历中删除
		return r.ID() < 9
	})
	assert.Equal(t, []types.ReplicaID{2, 5, 9}, visited)
	assert.Equal(t, []types.ReplicaID{40}, s.IDs())

	all := s.Clear()
	require.Len(t, all, 1)
	assert.Zero(t, s.Len())
}
