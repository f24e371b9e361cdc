package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

func TestEntryHeader(t *testing.T) {
	r := authoritative(t, 300, 12)
	p, err := encodePayload(r)
	require.NoError(t, err)

	e := encodeEntry(r, true, p)
	h, err := readEntryHeader(e)
	require.NoError(t, err)
	assert.Equal(t, entryHeader{owned: true, template: 12, id: 300, bits: p.Len()}, h)
	assert.Equal(t, p.Len(), e.Remaining())
}

func TestEntryHeader_LengthBeyondData(t *testing.T) {
	bs := bitstream.New(8)
	bs.WriteBool(false)
	bs.WriteBool(true)
	bs.WriteReplicaID(1)
	bs.WriteUint16(500)

	_, err := readEntryHeader(bs)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestUpdateBatch_SplitsAtLimit(t *testing.T) {
	b := newUpdateBatch(100)
	total := 0
	for i := 0; i < 30; i++ {
		r := authoritative(t, types.ReplicaID(i), 1)
		p, err := encodePayload(r)
		require.NoError(t, err)
		require.NoError(t, b.add(encodeEntry(r, false, p)))
	}

	msgs := b.messages()
	require.Greater(t, len(msgs), 1)
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m), 100)
		bs := bitstream.FromBytes(m)
		mt, err := bs.ReadMessageType()
		require.NoError(t, err)
		assert.Equal(t, types.MessageTypeReplicaUpdate, mt)
		n, err := bs.ReadUint16()
		require.NoError(t, err)
		for i := 0; i < int(n); i++ {
			h, err := readEntryHeader(bs)
			require.NoError(t, err)
			assert.Equal(t, types.ReplicaID(total), h.id)
			require.NoError(t, bs.Skip(h.bits))
			total++
		}
	}
	assert.Equal(t, 30, total)
	assert.Empty(t, b.messages())
}

func TestUpdateBatch_EntryTooLarge(t *testing.T) {
	b := newUpdateBatch(16)
	e := bitstream.New(32)
	e.WriteBytes(make([]byte, 20))
	assert.ErrorIs(t, b.add(e), ErrReplicaTooLarge)
}

func TestUpdateBatch_Cost(t *testing.T) {
	b := newUpdateBatch(100)
	assert.Equal(t, messageHeaderBits+178+7, b.cost(178))

	e := bitstream.New(32)
	e.WriteBits(0, 178)
	require.NoError(t, b.add(e))
	assert.Equal(t, 178, b.cost(178))
	// 放不下时需要新的消息头
	assert.Equal(t, messageHeaderBits+700+7, b.cost(700))
}

func TestDestroys_SplitAndDecode(t *testing.T) {
	ids := make([]types.ReplicaID, 1000)
	for i := range ids {
		ids[i] = types.ReplicaID(i * 3)
	}

	msgs := encodeDestroys(ids, 100)
	require.Greater(t, len(msgs), 1)

	var got []types.ReplicaID
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m), 100)
		part, err := decodeDestroys(body(m))
		require.NoError(t, err)
		got = append(got, part...)
	}
	assert.Equal(t, ids, got)
	assert.Empty(t, encodeDestroys(nil, 100))
}

func TestRPCMessage(t *testing.T) {
	data, err := encodeRPC(42, 7, u32(0xCAFE))
	require.NoError(t, err)

	call, err := decodeRPC(body(data))
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaID(42), call.id)
	assert.Equal(t, uint8(7), call.method)
	v, err := call.args.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFE), v)

	empty, err := encodeRPC(1, 1, nil)
	require.NoError(t, err)
	call, err = decodeRPC(body(empty))
	require.NoError(t, err)
	assert.Zero(t, call.args.Len())

	_, err = decodeRPC(body(data[:4]))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	huge := bitstream.New(9000)
	huge.WriteBytes(make([]byte, 9000))
	_, err = encodeRPC(1, 1, huge)
	assert.ErrorIs(t, err, ErrArgsTooLarge)
}
