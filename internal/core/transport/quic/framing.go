package quic

import (
	"bufio"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// writeFrame 写入 varint 长度前缀 + 帧
func writeFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(frame)))+len(frame))
	buf = append(buf, varint.ToUvarint(uint64(len(frame)))...)
	buf = append(buf, frame...)
	_, err := w.Write(buf)
	return err
}

// readFrame 读取一个带长度前缀的帧
func readFrame(r *bufio.Reader, max int) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, max)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
