package bitstream

import "errors"

var (
	// ErrOutOfData 请求读取的位数超过剩余数据
	ErrOutOfData = errors.New("bitstream: out of data")

	// ErrStringTooLong 字符串超过长度前缀上限
	ErrStringTooLong = errors.New("bitstream: string too long")

	// ErrInvalidUTF8 字符串不是合法的 UTF-8
	ErrInvalidUTF8 = errors.New("bitstream: invalid utf-8")

	// ErrInvalidBitCount 位数不在 [0,64] 范围内
	ErrInvalidBitCount = errors.New("bitstream: invalid bit count")

	// ErrInvalidRange 区间写入时 min > max、值越界或为 NaN
	ErrInvalidRange = errors.New("bitstream: value out of range")

	// ErrInvalidPosition 游标位置越界
	ErrInvalidPosition = errors.New("bitstream: invalid position")
)
