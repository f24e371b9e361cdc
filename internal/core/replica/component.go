package replica

import (
	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
)

// Component 状态组件契约
type Component = pkgif.Component

// Transform 把副本位置作为状态组件同步
//
// 服务端的位置参与优先级计算，客户端收到后写回镜像的位置。
type Transform struct {
	r *Replica
}

var _ Component = (*Transform)(nil)

// NewTransform 创建绑定到 r 的位置组件
func NewTransform(r *Replica) *Transform {
	return &Transform{r: r}
}

// Serialize 写出 X/Y/Z
func (t *Transform) Serialize(bs *bitstream.BitStream) error {
	p := t.r.Position()
	bs.WriteFloat32(p.X)
	bs.WriteFloat32(p.Y)
	bs.WriteFloat32(p.Z)
	return nil
}

// Deserialize 读入 X/Y/Z，读取失败时位置保持不变
func (t *Transform) Deserialize(bs *bitstream.BitStream) error {
	p := t.r.Position()
	var err error
	if p.X, err = bs.ReadFloat32(); err != nil {
		return err
	}
	if p.Y, err = bs.ReadFloat32(); err != nil {
		return err
	}
	if p.Z, err = bs.ReadFloat32(); err != nil {
		return err
	}
	t.r.SetPosition(p)
	return nil
}
