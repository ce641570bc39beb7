package tnt

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/vmihailenco/msgpack.v2"
)

// smallWBuf is an append-only byte buffer used to build a single frame
// in one allocation-light pass, mirroring the reference client's
// write-side buffer.
type smallWBuf []byte

func (b *smallWBuf) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// encodeFrame serializes a command header and its body into a single
// wire frame: a 5-byte length-prefixed pair of msgpack objects.
//
// Byte 0 of the prefix is always the msgpack u32 tag (0xce); a
// placeholder length is written first and patched in place once the
// body has been serialized, avoiding a second buffer pass.
func encodeFrame(code CommandCode, sync uint64, body func(enc *msgpack.Encoder) error) ([]byte, error) {
	var buf smallWBuf
	buf = append(buf, frameLengthTag, 0, 0, 0, 0)

	enc := msgpack.NewEncoder(&buf)
	enc.EncodeMapLen(2)
	enc.EncodeUint64(uint64(KeyCode))
	enc.EncodeUint64(uint64(code))
	enc.EncodeUint64(uint64(KeySync))
	enc.EncodeUint64(sync)

	if body == nil {
		if err := enc.EncodeNil(); err != nil {
			return nil, wrapError(ProtocolError, err, "encode nil body")
		}
	} else if err := body(enc); err != nil {
		return nil, wrapError(ProtocolError, err, "encode request body")
	}

	payloadLen := uint32(len(buf) - frameLengthBytes)
	buf[1] = byte(payloadLen >> 24)
	buf[2] = byte(payloadLen >> 16)
	buf[3] = byte(payloadLen >> 8)
	buf[4] = byte(payloadLen)

	return buf, nil
}

// readFrame reads one length-prefixed frame from r: 5 bytes of prefix
// followed by exactly that many payload bytes.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [frameLengthBytes]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, wrapError(IoError, err, "read frame prefix")
	}
	if prefix[0] != frameLengthTag {
		return nil, newError(ProtocolError, "bad frame prefix tag 0x%x", prefix[0])
	}
	length := uint32(prefix[1])<<24 | uint32(prefix[2])<<16 | uint32(prefix[3])<<8 | uint32(prefix[4])
	if length == 0 {
		return nil, newError(ProtocolError, "zero-length frame")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, wrapError(IoError, err, "read frame payload")
	}
	return payload, nil
}

// decodeKey reads a single non-negative integer msgpack map key.
func decodeKey(d *msgpack.Decoder) (uint64, error) {
	return d.DecodeUint64()
}

func bytesDecoder(b []byte) *msgpack.Decoder {
	return msgpack.NewDecoder(bytes.NewReader(b))
}

var errUnsupportedDataShape = fmt.Errorf("data key is not a sequence")
