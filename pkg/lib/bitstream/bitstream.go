// Package bitstream 实现按位寻址的紧凑编解码缓冲区
//
// BitStream 是所有消息的基础：复制与 RPC 流量都通过它读写原始数值、
// 字符串和副本 ID。字段可以不按字节对齐，以节省带宽。
//
// 读写游标相互独立并且都可以重新定位，处理器可以先窥视再恢复读位置，
// 使同一条消息能被多个处理器独立读取。
//
// 位序：第 i 位存放在 buf[i/8] 的第 (i%8) 位（低位优先）。
//
// 写入会自动扩容；读取超出已写入长度时返回 ErrOutOfData，且游标不前进。
package bitstream

import (
	"math"
	"math/bits"
	"unicode/utf8"

	"github.com/dep2p/go-cube/pkg/types"
)

// MaxStringLength 字符串长度前缀 (uint16) 的上限，单位字节
const MaxStringLength = math.MaxUint16

// BitStream 位流
//
// 非并发安全，每条消息由单个 tick 线程处理。
type BitStream struct {
	buf    []byte
	length int // 已写入的最大位数
	wpos   int // 写游标（位）
	rpos   int // 读游标（位）
}

// New 创建位流，capacity 为预分配字节数
func New(capacity int) *BitStream {
	if capacity < 0 {
		capacity = 0
	}
	return &BitStream{buf: make([]byte, 0, capacity)}
}

// FromBytes 基于已有数据创建可读位流
//
// 不复制 data，写入会修改调用方的切片。
func FromBytes(data []byte) *BitStream {
	return &BitStream{
		buf:    data,
		length: len(data) * 8,
		wpos:   len(data) * 8,
	}
}

// ============================================================================
//                              游标与长度
// ============================================================================

// Bytes 返回已写入的数据（最后一个字节的未用位为 0）
func (s *BitStream) Bytes() []byte {
	return s.buf[:(s.length+7)/8]
}

// Len 返回已写入的位数
func (s *BitStream) Len() int {
	return s.length
}

// ByteLen 返回已写入数据占用的字节数
func (s *BitStream) ByteLen() int {
	return (s.length + 7) / 8
}

// Remaining 返回读游标之后剩余的位数
func (s *BitStream) Remaining() int {
	return s.length - s.rpos
}

// ReadPosition 返回读游标
func (s *BitStream) ReadPosition() int {
	return s.rpos
}

// SetReadPosition 设置读游标
func (s *BitStream) SetReadPosition(pos int) error {
	if pos < 0 || pos > s.length {
		return ErrInvalidPosition
	}
	s.rpos = pos
	return nil
}

// WritePosition 返回写游标
func (s *BitStream) WritePosition() int {
	return s.wpos
}

// SetWritePosition 设置写游标，之后的写入覆盖原有数据
func (s *BitStream) SetWritePosition(pos int) error {
	if pos < 0 || pos > s.length {
		return ErrInvalidPosition
	}
	s.wpos = pos
	return nil
}

// Reset 清空数据并复位两个游标，保留底层缓冲区
func (s *BitStream) Reset() {
	s.buf = s.buf[:0]
	s.length = 0
	s.wpos = 0
	s.rpos = 0
}

func (s *BitStream) grow(totalBits int) {
	need := (totalBits + 7) / 8
	if need <= len(s.buf) {
		return
	}
	if need > cap(s.buf) {
		c := cap(s.buf) * 2
		if c < need {
			c = need
		}
		if c < 16 {
			c = 16
		}
		nb := make([]byte, len(s.buf), c)
		copy(nb, s.buf)
		s.buf = nb
	}
	// 扩展部分清零，保证未写入位为 0
	old := len(s.buf)
	s.buf = s.buf[:need]
	for i := old; i < need; i++ {
		s.buf[i] = 0
	}
}

// ============================================================================
//                              位操作
// ============================================================================

// WriteBits 写入 value 的低 n 位，n ∈ [0,64]
//
// n 越界属于编程错误，直接 panic。
func (s *BitStream) WriteBits(value uint64, n int) {
	if n < 0 || n > 64 {
		panic(ErrInvalidBitCount)
	}
	if n < 64 {
		value &= (uint64(1) << uint(n)) - 1
	}
	s.grow(s.wpos + n)
	for n > 0 {
		idx := s.wpos >> 3
		off := s.wpos & 7
		take := 8 - off
		if take > n {
			take = n
		}
		mask := byte((1 << uint(take)) - 1)
		s.buf[idx] &^= mask << uint(off)
		s.buf[idx] |= (byte(value) & mask) << uint(off)
		value >>= uint(take)
		n -= take
		s.wpos += take
	}
	if s.wpos > s.length {
		s.length = s.wpos
	}
}

// ReadBits 读取 n 位，n ∈ [0,64]
func (s *BitStream) ReadBits(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, ErrInvalidBitCount
	}
	if s.rpos+n > s.length {
		return 0, ErrOutOfData
	}
	v := s.peekBits(s.rpos, n)
	s.rpos += n
	return v, nil
}

func (s *BitStream) peekBits(pos, n int) uint64 {
	var value uint64
	shift := uint(0)
	for n > 0 {
		idx := pos >> 3
		off := pos & 7
		take := 8 - off
		if take > n {
			take = n
		}
		b := (s.buf[idx] >> uint(off)) & byte((1<<uint(take))-1)
		value |= uint64(b) << shift
		shift += uint(take)
		pos += take
		n -= take
	}
	return value
}

// WriteStream 追加另一个位流的全部已写入位
func (s *BitStream) WriteStream(other *BitStream) {
	pos := 0
	for pos < other.length {
		n := other.length - pos
		if n > 64 {
			n = 64
		}
		s.WriteBits(other.peekBits(pos, n), n)
		pos += n
	}
}

// ReadStream 读取 n 位到新的位流，新位流的读游标位于开头
func (s *BitStream) ReadStream(n int) (*BitStream, error) {
	if n < 0 || s.rpos+n > s.length {
		return nil, ErrOutOfData
	}
	out := New((n + 7) / 8)
	pos, left := s.rpos, n
	for left > 0 {
		k := left
		if k > 64 {
			k = 64
		}
		out.WriteBits(s.peekBits(pos, k), k)
		pos += k
		left -= k
	}
	s.rpos += n
	return out, nil
}

// Skip 读游标前移 n 位
func (s *BitStream) Skip(n int) error {
	if n < 0 || s.rpos+n > s.length {
		return ErrOutOfData
	}
	s.rpos += n
	return nil
}

// ============================================================================
//                              基础类型
// ============================================================================

// WriteBool 写入 1 位布尔值
func (s *BitStream) WriteBool(v bool) {
	if v {
		s.WriteBits(1, 1)
	} else {
		s.WriteBits(0, 1)
	}
}

// ReadBool 读取 1 位布尔值
func (s *BitStream) ReadBool() (bool, error) {
	v, err := s.ReadBits(1)
	return v == 1, err
}

// WriteUint8 写入 uint8
func (s *BitStream) WriteUint8(v uint8) { s.WriteBits(uint64(v), 8) }

// WriteUint16 写入 uint16
func (s *BitStream) WriteUint16(v uint16) { s.WriteBits(uint64(v), 16) }

// WriteUint32 写入 uint32
func (s *BitStream) WriteUint32(v uint32) { s.WriteBits(uint64(v), 32) }

// WriteUint64 写入 uint64
func (s *BitStream) WriteUint64(v uint64) { s.WriteBits(v, 64) }

// WriteInt8 写入 int8
func (s *BitStream) WriteInt8(v int8) { s.WriteBits(uint64(uint8(v)), 8) }

// WriteInt16 写入 int16
func (s *BitStream) WriteInt16(v int16) { s.WriteBits(uint64(uint16(v)), 16) }

// WriteInt32 写入 int32
func (s *BitStream) WriteInt32(v int32) { s.WriteBits(uint64(uint32(v)), 32) }

// WriteInt64 写入 int64
func (s *BitStream) WriteInt64(v int64) { s.WriteBits(uint64(v), 64) }

// WriteFloat32 写入 float32（IEEE 754 位模式）
func (s *BitStream) WriteFloat32(v float32) { s.WriteBits(uint64(math.Float32bits(v)), 32) }

// WriteFloat64 写入 float64（IEEE 754 位模式）
func (s *BitStream) WriteFloat64(v float64) { s.WriteBits(math.Float64bits(v), 64) }

// ReadUint8 读取 uint8
func (s *BitStream) ReadUint8() (uint8, error) {
	v, err := s.ReadBits(8)
	return uint8(v), err
}

// ReadUint16 读取 uint16
func (s *BitStream) ReadUint16() (uint16, error) {
	v, err := s.ReadBits(16)
	return uint16(v), err
}

// ReadUint32 读取 uint32
func (s *BitStream) ReadUint32() (uint32, error) {
	v, err := s.ReadBits(32)
	return uint32(v), err
}

// ReadUint64 读取 uint64
func (s *BitStream) ReadUint64() (uint64, error) {
	return s.ReadBits(64)
}

// ReadInt8 读取 int8
func (s *BitStream) ReadInt8() (int8, error) {
	v, err := s.ReadBits(8)
	return int8(uint8(v)), err
}

// ReadInt16 读取 int16
func (s *BitStream) ReadInt16() (int16, error) {
	v, err := s.ReadBits(16)
	return int16(uint16(v)), err
}

// ReadInt32 读取 int32
func (s *BitStream) ReadInt32() (int32, error) {
	v, err := s.ReadBits(32)
	return int32(uint32(v)), err
}

// ReadInt64 读取 int64
func (s *BitStream) ReadInt64() (int64, error) {
	v, err := s.ReadBits(64)
	return int64(v), err
}

// ReadFloat32 读取 float32
func (s *BitStream) ReadFloat32() (float32, error) {
	v, err := s.ReadBits(32)
	return math.Float32frombits(uint32(v)), err
}

// ReadFloat64 读取 float64
func (s *BitStream) ReadFloat64() (float64, error) {
	v, err := s.ReadBits(64)
	return math.Float64frombits(v), err
}

// ============================================================================
//                              压缩编码
// ============================================================================

// BitsRequired 返回表示 [0, span] 所需的位数
func BitsRequired(span uint64) int {
	return bits.Len64(span)
}

// WriteIntInRange 以最少位数写入 [min,max] 内的整数
func (s *BitStream) WriteIntInRange(v, min, max int32) error {
	if min > max || v < min || v > max {
		return ErrInvalidRange
	}
	n := BitsRequired(uint64(int64(max) - int64(min)))
	s.WriteBits(uint64(int64(v)-int64(min)), n)
	return nil
}

// ReadIntInRange 读取 WriteIntInRange 写入的整数
func (s *BitStream) ReadIntInRange(min, max int32) (int32, error) {
	if min > max {
		return 0, ErrInvalidRange
	}
	n := BitsRequired(uint64(int64(max) - int64(min)))
	v, err := s.ReadBits(n)
	if err != nil {
		return 0, err
	}
	r := int64(min) + int64(v)
	if r > int64(max) {
		return 0, ErrInvalidRange
	}
	return int32(r), nil
}

// WriteLossyFloat 按 precision 量化 [min,max] 内的浮点数
//
// 超出区间的值（含 ±Inf）被截断到边界；NaN 没有可量化的值，返回 ErrInvalidRange 且不写入。
func (s *BitStream) WriteLossyFloat(v, min, max, precision float32) error {
	if !validRange(min, max, precision) || isNaN(v) {
		return ErrInvalidRange
	}
	if v < min {
		v = min
	} else if v > max {
		v = max
	}
	steps := uint64(math.Ceil(float64(max-min) / float64(precision)))
	q := uint64(math.Round(float64(v-min) / float64(precision)))
	if q > steps {
		q = steps
	}
	s.WriteBits(q, BitsRequired(steps))
	return nil
}

// ReadLossyFloat 读取 WriteLossyFloat 写入的浮点数
func (s *BitStream) ReadLossyFloat(min, max, precision float32) (float32, error) {
	if !validRange(min, max, precision) {
		return 0, ErrInvalidRange
	}
	steps := uint64(math.Ceil(float64(max-min) / float64(precision)))
	q, err := s.ReadBits(BitsRequired(steps))
	if err != nil {
		return 0, err
	}
	v := float64(min) + float64(q)*float64(precision)
	if v > float64(max) {
		v = float64(max)
	}
	return float32(v), nil
}

// validRange 区间有限且非空，精度为正
func validRange(min, max, precision float32) bool {
	for _, f := range [...]float32{min, max, precision} {
		if isNaN(f) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return min < max && precision > 0
}

func isNaN(f float32) bool { return math.IsNaN(float64(f)) }

// ============================================================================
//                              字符串与字节
// ============================================================================

// WriteString 写入 uint16 字节长度前缀 + UTF-8 字节
//
// 非法 UTF-8 返回 ErrInvalidUTF8 且不写入，保证 ReadString 能读回同一个值。
func (s *BitStream) WriteString(v string) error {
	if len(v) > MaxStringLength {
		return ErrStringTooLong
	}
	if !utf8.ValidString(v) {
		return ErrInvalidUTF8
	}
	s.WriteUint16(uint16(len(v)))
	s.WriteBytes([]byte(v))
	return nil
}

// ReadString 读取 WriteString 写入的字符串
func (s *BitStream) ReadString() (string, error) {
	start := s.rpos
	n, err := s.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := s.ReadBytes(int(n))
	if err != nil {
		s.rpos = start
		return "", err
	}
	if !utf8.Valid(b) {
		s.rpos = start
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// WriteBytes 写入原始字节，不带长度
func (s *BitStream) WriteBytes(b []byte) {
	if s.wpos&7 == 0 {
		// 字节对齐时直接拷贝
		s.grow(s.wpos + len(b)*8)
		copy(s.buf[s.wpos>>3:], b)
		s.wpos += len(b) * 8
		if s.wpos > s.length {
			s.length = s.wpos
		}
		return
	}
	for _, c := range b {
		s.WriteBits(uint64(c), 8)
	}
}

// ReadBytes 读取 n 个字节
func (s *BitStream) ReadBytes(n int) ([]byte, error) {
	if n < 0 || s.rpos+n*8 > s.length {
		return nil, ErrOutOfData
	}
	out := make([]byte, n)
	if s.rpos&7 == 0 {
		copy(out, s.buf[s.rpos>>3:])
		s.rpos += n * 8
		return out, nil
	}
	for i := range out {
		out[i] = byte(s.peekBits(s.rpos, 8))
		s.rpos += 8
	}
	return out, nil
}

// ============================================================================
//                              标识符
// ============================================================================

// WriteReplicaID 写入副本 ID
func (s *BitStream) WriteReplicaID(id types.ReplicaID) {
	s.WriteBits(uint64(id), types.ReplicaIDBits)
}

// ReadReplicaID 读取副本 ID
func (s *BitStream) ReadReplicaID() (types.ReplicaID, error) {
	v, err := s.ReadBits(types.ReplicaIDBits)
	return types.ReplicaID(v), err
}

// WriteMessageType 写入消息类型字节
func (s *BitStream) WriteMessageType(t types.MessageType) {
	s.WriteUint8(uint8(t))
}

// ReadMessageType 读取消息类型字节
func (s *BitStream) ReadMessageType() (types.MessageType, error) {
	v, err := s.ReadUint8()
	return types.MessageType(v), err
}
