package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteFrame writes a 4-byte big-endian length followed by data.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxUnitSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxUnitSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
