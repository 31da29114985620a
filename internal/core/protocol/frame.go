package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/pkg/generic"
)

const (
	headerSize     = 5
	compressedFlag = 0x80
	// bodies at or below this size are sent uncompressed
	compressThreshold = 512
	scratchSize       = 16 << 10
)

// scratch holds s2 output buffers; oversized ones are not kept.
var scratch = generic.NewPool(func() *[]byte {
	b := make([]byte, 0, scratchSize)
	return &b
}, func(b *[]byte) bool {
	if cap(*b) > 4*scratchSize {
		return false
	}
	*b = (*b)[:0]
	return true
})

// Frame is one decoded wire unit.
type Frame struct {
	Kind    Kind
	Message Message
	// Size is the encoded length including the header.
	Size int
}

// Encode frames m as: u32 big-endian length of the remainder, one tag byte
// whose high bit marks an s2-compressed body, then the JSON body. A frame
// larger than the kind's MaxSize is refused.
func Encode(m Message) ([]byte, error) {
	k := m.Kind()
	spec, ok := k.Spec()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	body, err := bodyCodec.Marshal(m)
	if err != nil {
		return nil, WrapError(err, "encode "+k.String())
	}

	tag := byte(k)
	if len(body) > compressThreshold {
		buf := scratch.Get()
		defer scratch.Put(buf)
		packed := s2.Encode((*buf)[:cap(*buf)], body)
		if cap(packed) > cap(*buf) {
			*buf = packed[:0]
		}
		if len(packed) < len(body) {
			body = packed
			tag |= compressedFlag
		}
	}

	size := headerSize + len(body)
	if size > spec.MaxSize {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, limit %d", ErrMessageTooLarge, k, size, spec.MaxSize)
	}

	out := make([]byte, size)
	binary.BigEndian.PutUint32(out, uint32(len(body)+1))
	out[4] = tag
	copy(out[headerSize:], body)
	return out, nil
}

// Decode parses one complete frame.
func Decode(data []byte) (Frame, error) {
	if len(data) < headerSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(data))
	}
	n := binary.BigEndian.Uint32(data)
	if int(n) != len(data)-4 {
		return Frame{}, fmt.Errorf("%w: length %d, have %d", ErrMalformedFrame, n, len(data)-4)
	}
	tag := data[4]
	k := Kind(tag &^ compressedFlag)
	spec, ok := k.Spec()
	if !ok {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	if len(data) > spec.MaxSize {
		return Frame{}, fmt.Errorf("%w: %s frame is %d bytes, limit %d", ErrMessageTooLarge, k, len(data), spec.MaxSize)
	}

	body := data[headerSize:]
	if tag&compressedFlag != 0 {
		dlen, err := s2.DecodedLen(body)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		if dlen > MaxFrameSize {
			return Frame{}, fmt.Errorf("%w: inflated body is %d bytes", ErrMessageTooLarge, dlen)
		}
		if body, err = s2.Decode(nil, body); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
	}

	m, _ := newMessage(k)
	if err := bodyCodec.Unmarshal(body, m); err != nil {
		return Frame{}, fmt.Errorf("%w: %s body: %v", ErrMalformedFrame, k, err)
	}
	return Frame{Kind: k, Message: m, Size: len(data)}, nil
}
