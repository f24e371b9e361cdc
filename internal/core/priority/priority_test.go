package priority

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/pkg/types"
)

type view struct {
	pos  types.Vec3
	last map[types.ReplicaID]time.Time
}

func (v *view) Position() types.Vec3 { return v.pos }

func (v *view) LastSent(id types.ReplicaID) (time.Time, bool) {
	t, ok := v.last[id]
	return t, ok
}

func newReplica(pos types.Vec3, s replica.Settings) *replica.Replica {
	r := replica.New(0)
	r.AssignID(1)
	r.SetPosition(pos)
	r.SetSettings(s)
	return r
}

func TestRelevance(t *testing.T) {
	s := replica.Settings{MaxViewDistance: 100}

	assert.Equal(t, float32(1), Relevance(newReplica(types.Vec3{}, s), types.Vec3{}))
	assert.InDelta(t, 0.5, Relevance(newReplica(types.Vec3{X: 50}, s), types.Vec3{}), 1e-6)
	// 高度差不影响
	assert.InDelta(t, 0.5, Relevance(newReplica(types.Vec3{Y: 1000, Z: 50}, s), types.Vec3{}), 1e-6)
	assert.Zero(t, Relevance(newReplica(types.Vec3{X: 100}, s), types.Vec3{}))
	assert.Zero(t, Relevance(newReplica(types.Vec3{X: 500}, s), types.Vec3{}))

	ignore := replica.Settings{MaxViewDistance: 1, Flags: replica.FlagIgnorePosition}
	assert.Equal(t, float32(1), Relevance(newReplica(types.Vec3{X: 500}, ignore), types.Vec3{}))

	unlimited := replica.Settings{}
	assert.Equal(t, float32(1), Relevance(newReplica(types.Vec3{X: 1e6}, unlimited), types.Vec3{}))
}

func TestStaleness(t *testing.T) {
	assert.Zero(t, Staleness(0, 100*time.Millisecond))
	assert.InDelta(t, 0.25, Staleness(25*time.Millisecond, 100*time.Millisecond), 1e-6)
	assert.Equal(t, float32(1), Staleness(time.Second, 100*time.Millisecond))
	assert.Equal(t, float32(1), Staleness(0, 0))
}

func TestDefaultManager_OutOfRangeShortCircuits(t *testing.T) {
	m := NewDefaultManager(clock.NewMock())
	r := newReplica(types.Vec3{X: 200}, replica.Settings{MaxViewDistance: 100, DesiredUpdateInterval: time.Second})

	res := m.GetPriority(r, &view{})
	assert.Equal(t, types.PriorityResult{}, res)
}

func TestDefaultManager_NeverSent(t *testing.T) {
	m := NewDefaultManager(clock.NewMock())
	r := newReplica(types.Vec3{X: 25}, replica.Settings{MaxViewDistance: 100, DesiredUpdateInterval: time.Second})

	res := m.GetPriority(r, &view{})
	assert.InDelta(t, 0.75, res.Relevance, 1e-6)
	assert.InDelta(t, 0.75, res.Final, 1e-6)
}

func TestDefaultManager_StalenessSaturatesToRelevance(t *testing.T) {
	clk := clock.NewMock()
	m := NewDefaultManager(clk)
	r := newReplica(types.Vec3{X: 20}, replica.Settings{MaxViewDistance: 100, DesiredUpdateInterval: 100 * time.Millisecond})
	v := &view{last: map[types.ReplicaID]time.Time{1: clk.Now()}}

	res := m.GetPriority(r, v)
	assert.Zero(t, res.Final)
	assert.InDelta(t, 0.8, res.Relevance, 1e-6)

	var prev float32
	for i := 0; i < 5; i++ {
		clk.Add(25 * time.Millisecond)
		res = m.GetPriority(r, v)
		assert.GreaterOrEqual(t, res.Final, prev)
		assert.LessOrEqual(t, res.Final, res.Relevance)
		prev = res.Final
	}
	// 超过期望间隔后 final == relevance
	assert.InDelta(t, res.Relevance, res.Final, 1e-6)
}

func TestManagerFunc(t *testing.T) {
	f := ManagerFunc(func(*replica.Replica, View) types.PriorityResult {
		return types.PriorityResult{Relevance: 1, Final: 0.3}
	})
	var m Manager = f
	assert.Equal(t, float32(0.3), m.GetPriority(nil, nil).Final)
}

func TestModule(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Priority.DefaultMaxViewDistance = 42

	var m Manager
	var pc Config
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&m, &pc),
	)
	defer app.RequireStart().RequireStop()

	require.NotNil(t, m)
	assert.IsType(t, &DefaultManager{}, m)
	assert.Equal(t, float32(42), pc.DefaultSettings().MaxViewDistance)
	assert.Equal(t, 100*time.Millisecond, NewConfig().DefaultSettings().DesiredUpdateInterval)
}
