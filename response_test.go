package tnt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vmihailenco/msgpack.v2"
)

func encodeResponsePayload(t *testing.T, code ResponseCode, sync uint64, withBody func(enc *msgpack.Encoder)) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.EncodeMapLen(2)
	enc.EncodeUint64(uint64(KeyCode))
	enc.EncodeUint64(uint64(code))
	enc.EncodeUint64(uint64(KeySync))
	enc.EncodeUint64(sync)
	if withBody != nil {
		withBody(enc)
	} else {
		enc.EncodeNil()
	}
	return buf.Bytes()
}

func TestDecodeResponseOkWithData(t *testing.T) {
	payload := encodeResponsePayload(t, OkResponse, 9, func(enc *msgpack.Encoder) {
		enc.EncodeMapLen(1)
		enc.EncodeUint64(uint64(KeyData))
		enc.Encode([]interface{}{[]interface{}{int64(1), "vlad"}})
	})

	resp, err := decodeResponse(payload)
	require.NoError(t, err)
	require.Equal(t, OkResponse, resp.Header.Code)
	require.EqualValues(t, 9, resp.Header.Sync)
	require.NotNil(t, resp.Body)
	require.Len(t, resp.Body.Data, 1)
}

func TestDecodeResponseOkNoBody(t *testing.T) {
	payload := encodeResponsePayload(t, OkResponse, 1, nil)

	resp, err := decodeResponse(payload)
	require.NoError(t, err)
	require.Nil(t, resp.Body)
	require.Empty(t, resp.Error)
}

func TestDecodeResponseError(t *testing.T) {
	payload := encodeResponsePayload(t, ErrorResponse, 2, func(enc *msgpack.Encoder) {
		enc.EncodeMapLen(1)
		enc.EncodeUint64(uint64(KeyError))
		enc.EncodeString("duplicate key exists")
	})

	resp, err := decodeResponse(payload)
	require.NoError(t, err)
	require.Equal(t, ErrorResponse, resp.Header.Code)
	require.Equal(t, "duplicate key exists", resp.Error)
}

func TestDecodeResponseErrorWithoutMessageFails(t *testing.T) {
	payload := encodeResponsePayload(t, ErrorResponse, 3, func(enc *msgpack.Encoder) {
		enc.EncodeMapLen(0)
	})

	_, err := decodeResponse(payload)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ProtocolError, kind)
}

func TestDecodeResponseUnknownHeaderKeyFails(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.EncodeMapLen(1)
	enc.EncodeUint64(0x99)
	enc.EncodeUint64(1)
	enc.EncodeNil()

	_, err := decodeResponse(buf.Bytes())
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ProtocolError, kind)
}

func TestDecodeResponseNonSequenceDataFails(t *testing.T) {
	payload := encodeResponsePayload(t, OkResponse, 4, func(enc *msgpack.Encoder) {
		enc.EncodeMapLen(1)
		enc.EncodeUint64(uint64(KeyData))
		enc.EncodeString("not a sequence")
	})

	_, err := decodeResponse(payload)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ProtocolError, kind)
}

func TestDecodeResponseSkipsUnknownBodyKey(t *testing.T) {
	payload := encodeResponsePayload(t, OkResponse, 5, func(enc *msgpack.Encoder) {
		enc.EncodeMapLen(1)
		enc.EncodeUint64(0x99)
		enc.EncodeString("ignored")
	})

	resp, err := decodeResponse(payload)
	require.NoError(t, err)
	require.Nil(t, resp.Body)
}
