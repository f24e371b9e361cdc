package replica

import "fmt"

// TemplateLookup 预制体索引 → 模板，由场景 / 资源管理提供
type TemplateLookup interface {
	TryGetTemplateForIndex(index uint16) (template any, found bool)
}

// TemplateMap 以 map 实现 TemplateLookup
type TemplateMap map[uint16]any

var _ TemplateLookup = TemplateMap(nil)

// TryGetTemplateForIndex 实现 TemplateLookup
func (m TemplateMap) TryGetTemplateForIndex(index uint16) (any, bool) {
	t, ok := m[index]
	return t, ok
}

// Factory 引擎侧的对象创建与销毁
//
// Create 返回带好组件的副本（未分配 ID、未封存），Destroy 释放其引擎句柄。
type Factory interface {
	Create(index uint16, template any) (*Replica, error)
	Destroy(r *Replica)
}

// FactoryBundle 以函数字段实现 Factory
//
// CreateF 未设置时创建不带组件的空副本，DestroyF 未设置时忽略。
type FactoryBundle struct {
	CreateF  func(index uint16, template any) (*Replica, error)
	DestroyF func(r *Replica)
}

var _ Factory = (*FactoryBundle)(nil)

// Create 调用 CreateF
func (f *FactoryBundle) Create(index uint16, template any) (*Replica, error) {
	if f.CreateF == nil {
		return New(index), nil
	}
	return f.CreateF(index, template)
}

// Destroy 调用 DestroyF
func (f *FactoryBundle) Destroy(r *Replica) {
	if f.DestroyF != nil {
		f.DestroyF(r)
	}
}

// Instantiate 解析模板并通过 factory 创建副本
//
// lookup 为 nil 时不做解析，模板为 nil；
// 提供了 lookup 但索引无法解析时返回 ErrUnknownTemplate。
func Instantiate(f Factory, lookup TemplateLookup, index uint16) (*Replica, error) {
	var template any
	if lookup != nil {
		t, ok := lookup.TryGetTemplateForIndex(index)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTemplate, index)
		}
		template = t
	}
	if f == nil {
		f = &FactoryBundle{}
	}
	r, err := f.Create(index, template)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("factory returned nil replica for template %d", index)
	}
	r.template = index
	r.scene = false
	return r, nil
}
