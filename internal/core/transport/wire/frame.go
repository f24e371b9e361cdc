package wire

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

// ErrMalformedFrame 帧头无法解析
var ErrMalformedFrame = errors.New("malformed frame")

// Header 帧头
type Header struct {
	Reliability types.Reliability
	Channel     types.Channel
	// Sequence 仅有序等级（Sequenced）携带
	Sequence uint16
}

// HeaderLen 返回给定等级的帧头字节数
func HeaderLen(rel types.Reliability) int {
	if rel.IsSequenced() {
		return 3
	}
	return 1
}

// EncodeFrame 编码帧头 + 负载
func EncodeFrame(h Header, payload []byte) []byte {
	bs := bitstream.New(HeaderLen(h.Reliability) + len(payload))
	bs.WriteBits(uint64(h.Reliability), types.ReliabilityBits)
	bs.WriteBits(uint64(h.Channel), types.ChannelBits)
	if h.Reliability.IsSequenced() {
		bs.WriteUint16(h.Sequence)
	}
	bs.WriteBytes(payload)
	return bs.Bytes()
}

// DecodeFrame 解析帧头，返回的负载与 frame 共享底层数组
func DecodeFrame(frame []byte) (Header, []byte, error) {
	bs := bitstream.FromBytes(frame)
	rel, err := bs.ReadBits(types.ReliabilityBits)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	ch, err := bs.ReadBits(types.ChannelBits)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	h := Header{Reliability: types.Reliability(rel), Channel: types.Channel(ch)}
	if !h.Reliability.IsValid() {
		return Header{}, nil, fmt.Errorf("%w: reliability %d", ErrMalformedFrame, rel)
	}
	if h.Reliability.IsSequenced() {
		seq, err := bs.ReadUint16()
		if err != nil {
			return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		h.Sequence = seq
	}
	return h, frame[bs.ReadPosition()/8:], nil
}
