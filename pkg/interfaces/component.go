package interfaces

import "github.com/dep2p/go-cube/pkg/lib/bitstream"

// Component 副本的一个可序列化状态组件
//
// 组件顺序在注册时固定，且必须在服务端与客户端完全一致，
// 顺序本身是线路协议的一部分。
type Component interface {
	// Serialize 将当前状态写入位流
	Serialize(bs *bitstream.BitStream) error

	// Deserialize 从位流读取状态并应用
	Deserialize(bs *bitstream.BitStream) error
}

// ComponentFunc 以一对函数实现 Component
type ComponentFunc struct {
	SerializeF   func(bs *bitstream.BitStream) error
	DeserializeF func(bs *bitstream.BitStream) error
}

var _ Component = ComponentFunc{}

// Serialize 调用 SerializeF
func (c ComponentFunc) Serialize(bs *bitstream.BitStream) error {
	if c.SerializeF == nil {
		return nil
	}
	return c.SerializeF(bs)
}

// Deserialize 调用 DeserializeF
func (c ComponentFunc) Deserialize(bs *bitstream.BitStream) error {
	if c.DeserializeF == nil {
		return nil
	}
	return c.DeserializeF(bs)
}
