package wire

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

// ============================================================================
//                              握手控制消息
// ============================================================================

// 网络后端在控制通道上交换的握手消息：
//
//	ConnectionHail            | uint16 长度 | hail 字节
//	ConnectionRequestAccepted | string 会话 ID
//	ConnectionRequestFailed   | string 拒绝原因

// Control 解析后的握手消息
type Control struct {
	Type    types.MessageType
	Hail    []byte
	Session string
	Reason  string
}

// EncodeHail 编码客户端 hail
func EncodeHail(hail []byte) ([]byte, error) {
	if len(hail) > bitstream.MaxStringLength {
		return nil, fmt.Errorf("%w: hail %d bytes", ErrMalformedFrame, len(hail))
	}
	bs := bitstream.New(3 + len(hail))
	bs.WriteMessageType(types.MessageTypeConnectionHail)
	bs.WriteUint16(uint16(len(hail)))
	bs.WriteBytes(hail)
	return bs.Bytes(), nil
}

// EncodeAccepted 编码接受消息
func EncodeAccepted(session string) []byte {
	bs := bitstream.New(3 + len(session))
	bs.WriteMessageType(types.MessageTypeConnectionRequestAccepted)
	_ = bs.WriteString(session)
	return bs.Bytes()
}

// MaxReasonLength 拒绝原因的最大字节数
const MaxReasonLength = 1024

// EncodeFailed 编码拒绝消息
//
// 非法 UTF-8 字节替换为 U+FFFD，过长的原因在字符边界处截断，
// 保证对端总能解析出原因。
func EncodeFailed(reason string) []byte {
	reason = TruncateUTF8(strings.ToValidUTF8(reason, "\uFFFD"), MaxReasonLength)
	bs := bitstream.New(3 + len(reason))
	bs.WriteMessageType(types.MessageTypeConnectionRequestFailed)
	_ = bs.WriteString(reason)
	return bs.Bytes()
}

// DecodeControl 解析握手消息
func DecodeControl(data []byte) (Control, error) {
	bs := bitstream.FromBytes(data)
	mt, err := bs.ReadMessageType()
	if err != nil {
		return Control{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	c := Control{Type: mt}
	switch mt {
	case types.MessageTypeConnectionHail:
		n, err := bs.ReadUint16()
		if err != nil {
			return Control{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if c.Hail, err = bs.ReadBytes(int(n)); err != nil {
			return Control{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	case types.MessageTypeConnectionRequestAccepted:
		if c.Session, err = bs.ReadString(); err != nil {
			return Control{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	case types.MessageTypeConnectionRequestFailed:
		if c.Reason, err = bs.ReadString(); err != nil {
			return Control{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	default:
		return Control{}, fmt.Errorf("%w: unexpected control message %s", ErrMalformedFrame, mt)
	}
	return c, nil
}

// TruncateUTF8 把 s 截断到最多 n 字节，不拆分多字节字符
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
