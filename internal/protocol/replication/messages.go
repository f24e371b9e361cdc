package replication

import (
	"fmt"
	"math"

	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

const (
	countBits  = 16
	lengthBits = 16

	maxCount       = math.MaxUint16
	maxPayloadBits = math.MaxUint16

	// 类型字节 + 条目数
	messageHeaderBits = 8 + countBits
)

// ============================================================================
//                              更新消息
// ============================================================================

// encodePayload 按注册顺序写出副本的全部组件
func encodePayload(r *replica.Replica) (*bitstream.BitStream, error) {
	payload := bitstream.New(32)
	if err := r.Serialize(payload); err != nil {
		return nil, err
	}
	if payload.Len() > maxPayloadBits {
		return nil, fmt.Errorf("%w: %s payload %d bits", ErrReplicaTooLarge, r, payload.Len())
	}
	return payload, nil
}

// encodeEntry 组装一个更新条目，owned 因观察者而异
func encodeEntry(r *replica.Replica, owned bool, payload *bitstream.BitStream) *bitstream.BitStream {
	e := bitstream.New(payload.ByteLen() + 7)
	e.WriteBool(owned)
	e.WriteBool(r.IsSceneReplica())
	if !r.IsSceneReplica() {
		e.WriteUint16(r.TemplateIndex())
	}
	e.WriteReplicaID(r.ID())
	e.WriteUint16(uint16(payload.Len()))
	e.WriteStream(payload)
	return e
}

// entryHeader 更新条目的头部
type entryHeader struct {
	owned    bool
	scene    bool
	template uint16
	id       types.ReplicaID
	bits     int
}

func readEntryHeader(bs *bitstream.BitStream) (entryHeader, error) {
	var h entryHeader
	var err error
	if h.owned, err = bs.ReadBool(); err != nil {
		return h, malformed("entry owned flag", err)
	}
	if h.scene, err = bs.ReadBool(); err != nil {
		return h, malformed("entry scene flag", err)
	}
	if !h.scene {
		if h.template, err = bs.ReadUint16(); err != nil {
			return h, malformed("entry template", err)
		}
	}
	if h.id, err = bs.ReadReplicaID(); err != nil {
		return h, malformed("entry id", err)
	}
	n, err := bs.ReadUint16()
	if err != nil {
		return h, malformed("entry length", err)
	}
	h.bits = int(n)
	if bs.Remaining() < h.bits {
		return h, fmt.Errorf("%w: entry %s wants %d bits, %d left", ErrMalformedMessage, h.id, h.bits, bs.Remaining())
	}
	return h, nil
}

// updateBatch 把条目装入一条或多条不超过 maxBits 的更新消息
type updateBatch struct {
	maxBits int
	cur     *bitstream.BitStream
	count   int
	done    [][]byte
}

func newUpdateBatch(maxBytes int) *updateBatch {
	return &updateBatch{maxBits: maxBytes * 8}
}

func (b *updateBatch) fits(entryBits int) bool {
	return b.cur != nil && b.count < maxCount && b.cur.Len()+entryBits <= b.maxBits
}

// cost 追加 entryBits 位的条目需要消耗的位数，需要新消息时包含消息头与填充
func (b *updateBatch) cost(entryBits int) int {
	if b.fits(entryBits) {
		return entryBits
	}
	return messageHeaderBits + entryBits + 7
}

// add 追加条目，当前消息放不下时先封口
func (b *updateBatch) add(e *bitstream.BitStream) error {
	if messageHeaderBits+e.Len() > b.maxBits {
		return fmt.Errorf("%w: entry %d bits, message limit %d bits", ErrReplicaTooLarge, e.Len(), b.maxBits)
	}
	if !b.fits(e.Len()) {
		b.flush()
		b.cur = bitstream.New(b.maxBits / 8)
		b.cur.WriteMessageType(types.MessageTypeReplicaUpdate)
		b.cur.WriteUint16(0)
		b.count = 0
	}
	b.cur.WriteStream(e)
	b.count++
	return nil
}

// flush 回填条目数并封口当前消息
func (b *updateBatch) flush() {
	if b.cur == nil {
		return
	}
	end := b.cur.WritePosition()
	_ = b.cur.SetWritePosition(8)
	b.cur.WriteUint16(uint16(b.count))
	_ = b.cur.SetWritePosition(end)
	b.done = append(b.done, b.cur.Bytes())
	b.cur = nil
	b.count = 0
}

// messages 封口并返回全部消息
func (b *updateBatch) messages() [][]byte {
	b.flush()
	out := b.done
	b.done = nil
	return out
}

// ============================================================================
//                              销毁消息
// ============================================================================

// encodeDestroys 把 id 列表切分为若干条销毁消息
func encodeDestroys(ids []types.ReplicaID, maxBytes int) [][]byte {
	per := (maxBytes*8 - messageHeaderBits) / types.ReplicaIDBits
	if per > maxCount {
		per = maxCount
	}
	if per < 1 {
		per = 1
	}

	var out [][]byte
	for len(ids) > 0 {
		n := len(ids)
		if n > per {
			n = per
		}
		bs := bitstream.New(3 + 2*n)
		bs.WriteMessageType(types.MessageTypeReplicaDestroy)
		bs.WriteUint16(uint16(n))
		for _, id := range ids[:n] {
			bs.WriteReplicaID(id)
		}
		out = append(out, bs.Bytes())
		ids = ids[n:]
	}
	return out
}

// decodeDestroys 读取类型字节之后的销毁列表
func decodeDestroys(bs *bitstream.BitStream) ([]types.ReplicaID, error) {
	n, err := bs.ReadUint16()
	if err != nil {
		return nil, malformed("destroy count", err)
	}
	if bs.Remaining() < int(n)*types.ReplicaIDBits {
		return nil, fmt.Errorf("%w: destroy batch of %d ids truncated", ErrMalformedMessage, n)
	}
	ids := make([]types.ReplicaID, n)
	for i := range ids {
		if ids[i], err = bs.ReadReplicaID(); err != nil {
			return nil, malformed("destroy id", err)
		}
	}
	return ids, nil
}

// ============================================================================
//                              RPC 消息
// ============================================================================

// rpcCall 解码后的 RPC 调用
type rpcCall struct {
	id     types.ReplicaID
	method uint8
	args   *bitstream.BitStream
}

func encodeRPC(id types.ReplicaID, method uint8, args *bitstream.BitStream) ([]byte, error) {
	n := 0
	if args != nil {
		n = args.Len()
	}
	if n > maxPayloadBits {
		return nil, fmt.Errorf("%w: %d bits", ErrArgsTooLarge, n)
	}
	bs := bitstream.New(6 + (n+7)/8)
	bs.WriteMessageType(types.MessageTypeReplicaRpc)
	bs.WriteReplicaID(id)
	bs.WriteUint8(method)
	bs.WriteUint16(uint16(n))
	if args != nil {
		bs.WriteStream(args)
	}
	return bs.Bytes(), nil
}

func decodeRPC(bs *bitstream.BitStream) (rpcCall, error) {
	var c rpcCall
	var err error
	if c.id, err = bs.ReadReplicaID(); err != nil {
		return c, malformed("rpc id", err)
	}
	if c.method, err = bs.ReadUint8(); err != nil {
		return c, malformed("rpc method", err)
	}
	n, err := bs.ReadUint16()
	if err != nil {
		return c, malformed("rpc args length", err)
	}
	if c.args, err = bs.ReadStream(int(n)); err != nil {
		return c, malformed("rpc args", err)
	}
	return c, nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, what, err)
}
