package tnt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vmihailenco/msgpack.v2"
)

func TestEncodeFramePrefix(t *testing.T) {
	frame, err := encodeFrame(PingCommand, 7, nil)
	require.NoError(t, err)
	require.Equal(t, byte(frameLengthTag), frame[0])

	length := uint32(frame[1])<<24 | uint32(frame[2])<<16 | uint32(frame[3])<<8 | uint32(frame[4])
	require.EqualValues(t, len(frame)-frameLengthBytes, length)
}

func TestEncodeFrameReadsBackButIsNotAResponse(t *testing.T) {
	frame, err := encodeFrame(SelectCommand, 42, func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(1)
		enc.EncodeUint64(uint64(KeySpaceID))
		enc.EncodeUint64(512)
		return nil
	})
	require.NoError(t, err)

	payload, err := readFrame(bytes.NewReader(frame))
	require.NoError(t, err)

	// A request frame is not a well-formed response frame: its Code
	// value (SelectCommand) aliases ErrorResponse's numeric value, so
	// decodeResponse expects an error message that was never written.
	_, err = decodeResponse(payload)
	require.Error(t, err)
}

func TestReadFrameRejectsBadTag(t *testing.T) {
	_, err := readFrame(bytes.NewReader([]byte{0x00, 0, 0, 0, 1, 0xc0}))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ProtocolError, kind)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	_, err := readFrame(bytes.NewReader([]byte{frameLengthTag, 0, 0, 0, 0}))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ProtocolError, kind)
}

func TestReadFrameTruncated(t *testing.T) {
	_, err := readFrame(bytes.NewReader([]byte{frameLengthTag, 0, 0, 0, 5, 1, 2}))
	require.Error(t, err)
}

func TestSmallWBufAppends(t *testing.T) {
	var buf smallWBuf
	n, err := buf.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{1, 2, 3}, []byte(buf))
}
