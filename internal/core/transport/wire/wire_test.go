package wire

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

// ============================================================================
//                              帧头
// ============================================================================

func TestFrame_RoundTrip(t *testing.T) {
	h := Header{Reliability: types.UnreliableSequenced, Channel: 7, Sequence: 513}
	frame := EncodeFrame(h, []byte{0xAA, 0xBB})
	assert.Len(t, frame, 3+2)

	got, payload, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, []byte{0xAA, 0xBB}, payload)
}

func TestFrame_UnsequencedHasOneByteHeader(t *testing.T) {
	h := Header{Reliability: types.ReliableOrdered, Channel: 31}
	frame := EncodeFrame(h, []byte{1})
	assert.Len(t, frame, 2)

	got, payload, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, types.ReliableOrdered, got.Reliability)
	assert.Equal(t, types.Channel(31), got.Channel)
	assert.Equal(t, []byte{1}, payload)
}

func TestFrame_Malformed(t *testing.T) {
	_, _, err := DecodeFrame(nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	// 可靠性 7 未定义
	_, _, err = DecodeFrame([]byte{0x07})
	assert.ErrorIs(t, err, ErrMalformedFrame)

	// 有序帧缺少序号
	_, _, err = DecodeFrame([]byte{byte(types.ReliableSequenced)})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

// ============================================================================
//                              序号
// ============================================================================

func TestSequenceGreater(t *testing.T) {
	assert.True(t, SequenceGreater(2, 1))
	assert.False(t, SequenceGreater(1, 2))
	assert.False(t, SequenceGreater(5, 5))
	// 回绕
	assert.True(t, SequenceGreater(0, 65535))
	assert.False(t, SequenceGreater(65535, 0))
}

func TestSequenceFilter(t *testing.T) {
	var s Sequencer
	var f SequenceFilter

	h0 := Header{Reliability: types.UnreliableSequenced, Channel: 1, Sequence: s.Next(types.UnreliableSequenced, 1)}
	h1 := Header{Reliability: types.UnreliableSequenced, Channel: 1, Sequence: s.Next(types.UnreliableSequenced, 1)}
	other := Header{Reliability: types.UnreliableSequenced, Channel: 2, Sequence: s.Next(types.UnreliableSequenced, 2)}

	assert.True(t, f.Accept(h1))
	assert.False(t, f.Accept(h0), "older frame on the same channel is dropped")
	assert.False(t, f.Accept(h1), "duplicate is dropped")
	assert.True(t, f.Accept(other), "channels are independent")

	// 非有序等级不过滤
	plain := Header{Reliability: types.Unreliable}
	assert.True(t, f.Accept(plain))
	assert.True(t, f.Accept(plain))
}

func TestSequencer_OnlySequencedAdvance(t *testing.T) {
	var s Sequencer
	assert.Equal(t, uint16(0), s.Next(types.ReliableOrdered, 0))
	assert.Equal(t, uint16(0), s.Next(types.ReliableOrdered, 0))
	assert.Equal(t, uint16(0), s.Next(types.ReliableSequenced, 0))
	assert.Equal(t, uint16(1), s.Next(types.ReliableSequenced, 0))
}

// ============================================================================
//                              Inbox
// ============================================================================

func packet(conn types.ConnectionID, b byte) pkgif.Packet {
	return pkgif.Packet{Connection: conn, Data: []byte{b}}
}

func drain(in *Inbox) []byte {
	var out []byte
	for {
		p, ok := in.Receive()
		if !ok {
			return out
		}
		out = append(out, p.Data[0])
	}
}

func TestInbox_NoLagDeliversImmediately(t *testing.T) {
	in := NewInbox(clock.NewMock(), types.NoLag())
	in.PushPacket(packet(1, 'a'), Header{Reliability: types.ReliableOrdered, Channel: 3})
	in.PushPacket(packet(1, 'b'), Header{Reliability: types.Unreliable})

	p, ok := in.Receive()
	require.True(t, ok)
	assert.Equal(t, types.ReliableOrdered, p.Reliability)
	assert.Equal(t, types.Channel(3), p.Channel)
	assert.Equal(t, []byte("b"), drain(in))
}

func TestInbox_LagHoldsUntilDue(t *testing.T) {
	mock := clock.NewMock()
	lag := types.SimulatedLag{Enabled: true, MinLatency: 50 * time.Millisecond, MaxLatency: 50 * time.Millisecond}
	in := NewInbox(mock, lag)

	in.PushPacket(packet(1, 'a'), Header{Reliability: types.ReliableOrdered})
	in.Update()
	_, ok := in.Receive()
	assert.False(t, ok)

	mock.Add(49 * time.Millisecond)
	in.Update()
	_, ok = in.Receive()
	assert.False(t, ok)

	mock.Add(time.Millisecond)
	in.Update()
	assert.Equal(t, []byte("a"), drain(in))
}

func TestInbox_OrderedNeverReordered(t *testing.T) {
	mock := clock.NewMock()
	lag := types.SimulatedLag{Enabled: true, MinLatency: 0, MaxLatency: 200 * time.Millisecond}
	in := NewInbox(mock, lag)
	in.SetSeed(42)

	var want []byte
	for i := 0; i < 50; i++ {
		b := byte('0' + i%10)
		want = append(want, b)
		in.PushPacket(packet(1, b), Header{Reliability: types.ReliableOrdered, Channel: 0})
		mock.Add(time.Millisecond)
	}
	mock.Add(time.Second)
	in.Update()
	assert.Equal(t, want, drain(in))
}

func TestInbox_LossOnlyAffectsUnreliable(t *testing.T) {
	lag := types.SimulatedLag{Enabled: true, LossRate: 1}
	in := NewInbox(clock.NewMock(), lag)

	in.PushPacket(packet(1, 'u'), Header{Reliability: types.Unreliable})
	in.PushPacket(packet(1, 'r'), Header{Reliability: types.ReliableUnordered})
	in.Update()
	assert.Equal(t, []byte("r"), drain(in))
}

func TestInbox_DuplicateUnreliable(t *testing.T) {
	lag := types.SimulatedLag{Enabled: true, DuplicateRate: 1}
	in := NewInbox(clock.NewMock(), lag)

	in.PushPacket(packet(1, 'u'), Header{Reliability: types.Unreliable})
	in.PushPacket(packet(1, 's'), Header{Reliability: types.UnreliableSequenced, Sequence: 1})
	in.Update()
	// 有序帧的副本被序号过滤
	assert.Equal(t, []byte("uus"), drain(in))
}

func TestInbox_EventsAndForget(t *testing.T) {
	in := NewInbox(clock.NewMock(), types.NoLag())
	in.PushEvent(Event{Kind: EventConnected, Conn: 1})
	in.PushEvent(Event{Kind: EventDisconnected, Conn: 2, Reason: "bye"})
	in.PushPacket(packet(1, 'a'), Header{Reliability: types.Unreliable})
	in.PushPacket(packet(2, 'b'), Header{Reliability: types.Unreliable})

	evs := in.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, EventConnected, evs[0].Kind)
	assert.Equal(t, "bye", evs[1].Reason)
	assert.Empty(t, in.Events())

	in.Forget(2)
	assert.Equal(t, []byte("a"), drain(in))
}

// ============================================================================
//                              握手
// ============================================================================

func TestControl_Handshake(t *testing.T) {
	hail, err := EncodeHail([]byte("player-1"))
	require.NoError(t, err)
	c, err := DecodeControl(hail)
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeConnectionHail, c.Type)
	assert.Equal(t, []byte("player-1"), c.Hail)

	c, err = DecodeControl(EncodeAccepted("session-42"))
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeConnectionRequestAccepted, c.Type)
	assert.Equal(t, "session-42", c.Session)

	c, err = DecodeControl(EncodeFailed("server full"))
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeConnectionRequestFailed, c.Type)
	assert.Equal(t, "server full", c.Reason)
}

func TestControl_FailedReasonMultibyte(t *testing.T) {
	// 400 个三字节字符，超过上限且 1024 不落在字符边界上
	long := strings.Repeat("拒", 400)
	c, err := DecodeControl(EncodeFailed(long))
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeConnectionRequestFailed, c.Type)
	assert.True(t, utf8.ValidString(c.Reason))
	assert.Equal(t, strings.Repeat("拒", MaxReasonLength/3), c.Reason)

	c, err = DecodeControl(EncodeFailed("bad\xffname"))
	require.NoError(t, err)
	assert.Equal(t, "bad\uFFFDname", c.Reason)
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", TruncateUTF8("abc", 10))
	assert.Equal(t, "", TruncateUTF8("abc", 0))
	assert.Equal(t, "a", TruncateUTF8("a拒", 2))
	assert.Equal(t, "a", TruncateUTF8("a拒", 3))
	assert.Equal(t, "a拒", TruncateUTF8("a拒b", 4))
}

func TestControl_Malformed(t *testing.T) {
	_, err := DecodeControl([]byte{byte(types.MessageTypeReplicaUpdate)})
	assert.ErrorIs(t, err, ErrMalformedFrame)

	// 长度前缀超出数据
	_, err = DecodeControl([]byte{byte(types.MessageTypeConnectionHail), 10, 0, 1})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
