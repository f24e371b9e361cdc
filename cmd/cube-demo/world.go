package main

import (
	"github.com/dep2p/go-cube"
)

// health 箱子与化身共用的生命值组件
type health struct {
	value uint8
}

func (h *health) Serialize(bs *cube.BitStream) error {
	bs.WriteUint8(h.value)
	return nil
}

func (h *health) Deserialize(bs *cube.BitStream) error {
	v, err := bs.ReadUint8()
	if err != nil {
		return err
	}
	h.value = v
	return nil
}

// newEntity 创建带位置与生命值组件的副本
func newEntity(index uint16) (*cube.Replica, error) {
	r := cube.NewReplica(index)
	if err := r.AddComponent(cube.NewTransform(r)); err != nil {
		return nil, err
	}
	if err := r.AddComponent(&health{value: 100}); err != nil {
		return nil, err
	}
	if index == templateAvatar {
		s := r.Settings()
		s.MaxViewDistance = 0
		r.SetSettings(s)
	}
	return r, nil
}

// serverFactory 化身响应拥有者的操控 RPC
func serverFactory() *cube.FactoryBundle {
	return &cube.FactoryBundle{
		CreateF: func(index uint16, _ any) (*cube.Replica, error) {
			r, err := newEntity(index)
			if err != nil || index != templateAvatar {
				return r, err
			}
			return r, r.RegisterRPC(methodSteer, func(_ cube.ConnectionID, args *cube.BitStream) error {
				dx, err := args.ReadFloat32()
				if err != nil {
					return err
				}
				dz, err := args.ReadFloat32()
				if err != nil {
					return err
				}
				p := r.Position()
				p.X += dx
				p.Z += dz
				r.SetPosition(p)
				return nil
			})
		},
	}
}

// clientFactory 客户端镜像只需组件，不处理 RPC
func clientFactory() *cube.FactoryBundle {
	return &cube.FactoryBundle{
		CreateF: func(index uint16, _ any) (*cube.Replica, error) {
			return newEntity(index)
		},
	}
}
