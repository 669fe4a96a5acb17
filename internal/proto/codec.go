package proto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-varint"

	"p2p-overlay/internal/errs"
)

// Envelope layout:
//
//	version(1) | flags(1) | from(32) | [to(32)] | type(uvarint) |
//	timestamp(8, BE) | id(16) | dataLen(uvarint) | data
const (
	WireVersion    byte = 1
	MaxMessageSize      = 16 << 20

	flagTo   byte = 1 << 0
	flagZstd byte = 1 << 1

	compressThreshold = 4 << 10
)

var (
	ErrShortMessage   = errors.New("proto: message truncated")
	ErrBadVersion     = errors.New("proto: unsupported wire version")
	ErrBadType        = errors.New("proto: invalid message type")
	ErrMessageTooLong = errors.New("proto: message exceeds size limit")
)

var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zdec, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxMessageSize))
)

// Marshal encodes m for the wire. Every transport carries exactly these
// bytes in both directions.
func Marshal(m Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, errs.E(errs.KindSerialization, "marshal", ErrBadType)
	}

	var flags byte
	data := m.Data
	if m.To != nil {
		flags |= flagTo
	}
	if len(data) > compressThreshold {
		if c := zenc.EncodeAll(data, nil); len(c) < len(data) {
			data = c
			flags |= flagZstd
		}
	}

	size := 2 + NodeIDBytes + varint.UvarintSize(uint64(m.Type)) + 8 + 16 +
		varint.UvarintSize(uint64(len(data))) + len(data)
	if m.To != nil {
		size += NodeIDBytes
	}
	if size > MaxMessageSize {
		return nil, errs.E(errs.KindSerialization, "marshal", ErrMessageTooLong)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, WireVersion, flags)
	buf = append(buf, m.From[:]...)
	if m.To != nil {
		buf = append(buf, m.To[:]...)
	}
	buf = append(buf, varint.ToUvarint(uint64(m.Type))...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Timestamp))
	buf = append(buf, m.ID[:]...)
	buf = append(buf, varint.ToUvarint(uint64(len(data)))...)
	buf = append(buf, data...)
	return buf, nil
}

// Unmarshal decodes a buffer produced by Marshal. The returned message does
// not alias b.
func Unmarshal(b []byte) (Message, error) {
	m, err := unmarshal(b)
	if err != nil {
		return Message{}, errs.E(errs.KindSerialization, "unmarshal", err)
	}
	return m, nil
}

func unmarshal(b []byte) (Message, error) {
	var m Message
	if len(b) > MaxMessageSize {
		return m, ErrMessageTooLong
	}
	if len(b) < 2 {
		return m, ErrShortMessage
	}
	if b[0] != WireVersion {
		return m, fmt.Errorf("%w: %d", ErrBadVersion, b[0])
	}
	flags := b[1]
	b = b[2:]

	if len(b) < NodeIDBytes {
		return m, ErrShortMessage
	}
	copy(m.From[:], b[:NodeIDBytes])
	b = b[NodeIDBytes:]

	if flags&flagTo != 0 {
		if len(b) < NodeIDBytes {
			return m, ErrShortMessage
		}
		var to NodeID
		copy(to[:], b[:NodeIDBytes])
		m.To = &to
		b = b[NodeIDBytes:]
	}

	typ, n, err := varint.FromUvarint(b)
	if err != nil {
		return m, err
	}
	m.Type = MessageType(typ)
	if typ > 0xffff || !m.Type.Valid() {
		return m, ErrBadType
	}
	b = b[n:]

	if len(b) < 8+16 {
		return m, ErrShortMessage
	}
	m.Timestamp = int64(binary.BigEndian.Uint64(b[:8]))
	copy(m.ID[:], b[8:24])
	b = b[24:]

	dlen, n, err := varint.FromUvarint(b)
	if err != nil {
		return m, err
	}
	b = b[n:]
	if uint64(len(b)) < dlen {
		return m, ErrShortMessage
	}
	raw := b[:dlen]

	if flags&flagZstd != 0 {
		out, err := zdec.DecodeAll(raw, nil)
		if err != nil {
			return m, fmt.Errorf("decompress: %w", err)
		}
		m.Data = out
	} else {
		m.Data = append([]byte(nil), raw...)
	}
	return m, nil
}
