package tnt

import "gopkg.in/vmihailenco/msgpack.v2"

// Header is the fixed set of fields every response carries.
type Header struct {
	Code     ResponseCode
	Sync     uint64
	SchemaID uint32
}

// Body holds the tuple data of a successful response. A nil *Body
// means the server sent no body at all (legal for some successes,
// e.g. Ping).
type Body struct {
	Data []interface{}
}

// Response is the parsed representation of one server reply.
type Response struct {
	Header Header
	Body   *Body
	Error  string
}

// decodeResponse parses a full response frame payload (the bytes that
// follow the 5-byte length prefix) into header + body/error.
func decodeResponse(payload []byte) (*Response, error) {
	d := bytesDecoder(payload)

	header, err := decodeHeader(d)
	if err != nil {
		return nil, err
	}

	resp := &Response{Header: header}

	if err := decodeBodyOrError(d, header, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

func decodeHeader(d *msgpack.Decoder) (Header, error) {
	var h Header

	l, err := d.DecodeMapLen()
	if err != nil {
		return h, wrapError(ProtocolError, err, "decode header map")
	}

	for ; l > 0; l-- {
		key, err := decodeKey(d)
		if err != nil {
			return h, wrapError(ProtocolError, err, "decode header key")
		}
		switch HeaderKey(key) {
		case KeyCode:
			v, err := d.DecodeUint64()
			if err != nil {
				return h, wrapError(ProtocolError, err, "decode header code")
			}
			h.Code = ResponseCode(v)
		case KeySync:
			v, err := d.DecodeUint64()
			if err != nil {
				return h, wrapError(ProtocolError, err, "decode header sync")
			}
			h.Sync = v
		case KeySchemaID:
			v, err := d.DecodeUint64()
			if err != nil {
				return h, wrapError(ProtocolError, err, "decode header schema id")
			}
			h.SchemaID = uint32(v)
		default:
			return h, newError(ProtocolError, "unknown header key 0x%x", key)
		}
	}

	return h, nil
}

// decodeBodyOrError decodes whatever follows the header: nothing (body
// left nil), a body map carrying Data, or an error map carrying Error.
func decodeBodyOrError(d *msgpack.Decoder, header Header, resp *Response) error {
	l, err := d.DecodeMapLen()
	if err != nil {
		if header.Code == OkResponse {
			// A success response with no body at all (e.g. Ping) is
			// legal; any other decode failure here is a protocol bug.
			return nil
		}
		return wrapError(ProtocolError, err, "decode body/error map")
	}
	if l == 0 {
		if header.Code != OkResponse {
			return newError(ProtocolError, "empty body on error response")
		}
		return nil
	}

	for ; l > 0; l-- {
		key, err := decodeKey(d)
		if err != nil {
			return wrapError(ProtocolError, err, "decode body key")
		}
		switch BodyKey(key) {
		case KeyData:
			v, err := d.DecodeInterface()
			if err != nil {
				return wrapError(ProtocolError, err, "decode data")
			}
			seq, ok := v.([]interface{})
			if !ok {
				return newError(ProtocolError, "%s", errUnsupportedDataShape.Error())
			}
			resp.Body = &Body{Data: seq}
		case KeyError:
			s, err := d.DecodeString()
			if err != nil {
				return wrapError(ProtocolError, err, "decode error string")
			}
			resp.Error = s
		default:
			if err := d.Skip(); err != nil {
				return wrapError(ProtocolError, err, "skip unknown body key")
			}
		}
	}

	if header.Code != OkResponse && resp.Error == "" {
		return newError(ProtocolError, "error response without error message")
	}

	return nil
}
