package wire

import "github.com/dep2p/go-cube/pkg/types"

const numReliability = int(types.ReliableSequenced) + 1

// Sequencer 按 (可靠性, 通道) 分配发送序号
type Sequencer struct {
	next [numReliability][types.MaxChannels]uint16
}

// Next 返回下一个序号
func (s *Sequencer) Next(rel types.Reliability, ch types.Channel) uint16 {
	if !rel.IsSequenced() || !rel.IsValid() || !ch.IsValid() {
		return 0
	}
	seq := s.next[rel][ch]
	s.next[rel][ch]++
	return seq
}

// SequenceFilter 接收端丢弃比已投递消息更旧的有序帧
type SequenceFilter struct {
	last [numReliability][types.MaxChannels]uint16
	seen [numReliability][types.MaxChannels]bool
}

// Accept 判断帧是否应投递，并记录最新序号
func (f *SequenceFilter) Accept(h Header) bool {
	if !h.Reliability.IsSequenced() || !h.Reliability.IsValid() || !h.Channel.IsValid() {
		return true
	}
	r, c := h.Reliability, h.Channel
	if f.seen[r][c] && !SequenceGreater(h.Sequence, f.last[r][c]) {
		return false
	}
	f.seen[r][c] = true
	f.last[r][c] = h.Sequence
	return true
}

// SequenceGreater 序号回绕比较（RFC 1982 串行数算术）
func SequenceGreater(a, b uint16) bool {
	return (a > b && a-b <= 1<<15) || (a < b && b-a > 1<<15)
}
