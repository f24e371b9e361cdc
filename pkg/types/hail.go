package types

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeHail 将结构化字段编码为握手 hail 负载
//
// 值类型受 structpb.NewValue 约束（字符串、数值、布尔、列表、map）。
func EncodeHail(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode hail: %w", err)
	}
	return proto.Marshal(s)
}

// DecodeHail 解码 hail 负载，空负载返回空 map
func DecodeHail(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode hail: %w", err)
	}
	return s.AsMap(), nil
}
