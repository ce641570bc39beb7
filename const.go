package tnt

// CommandCode identifies the kind of request carried by a frame header.
type CommandCode uint32

const (
	SelectCommand  CommandCode = 0x01
	InsertCommand  CommandCode = 0x02
	ReplaceCommand CommandCode = 0x03
	UpdateCommand  CommandCode = 0x04
	DeleteCommand  CommandCode = 0x05
	// Call16Command is the legacy 1.6-era CALL encoding. Defined for
	// completeness; the high-level surface only ever emits CallCommand.
	Call16Command CommandCode = 0x06
	AuthCommand   CommandCode = 0x07
	EvalCommand   CommandCode = 0x08
	UpsertCommand CommandCode = 0x09
	CallCommand   CommandCode = 0x0a
	PingCommand   CommandCode = 0x40
)

// ResponseCode is carried in a response header and distinguishes a
// successful reply from one describing a server-side error.
type ResponseCode uint32

const (
	OkResponse    ResponseCode = 0x00
	ErrorResponse ResponseCode = 0x01
)

// HeaderKey enumerates the msgpack map keys that may appear in a frame
// header.
type HeaderKey uint32

const (
	KeyCode     HeaderKey = 0x00
	KeySync     HeaderKey = 0x01
	KeySchemaID HeaderKey = 0x05
)

// BodyKey enumerates the msgpack map keys that may appear in a request
// or response body.
type BodyKey uint32

const (
	KeySpaceID      BodyKey = 0x10
	KeyIndexID      BodyKey = 0x11
	KeyLimit        BodyKey = 0x12
	KeyOffset       BodyKey = 0x13
	KeyIterator     BodyKey = 0x14
	KeyKey          BodyKey = 0x20
	KeyTuple        BodyKey = 0x21
	KeyFunctionName BodyKey = 0x22
	KeyUsername     BodyKey = 0x23
	KeyExpression   BodyKey = 0x27
	KeyOps          BodyKey = 0x28
	KeyData         BodyKey = 0x30
	KeyError        BodyKey = 0x31
)

// Iterator is SELECT's match predicate kind.
type Iterator uint32

const (
	IterEqual              Iterator = 0
	IterReversedEqual      Iterator = 1
	IterAll                Iterator = 2
	IterLessThan           Iterator = 3
	IterLessThanOrEqual    Iterator = 4
	IterGreaterThanOrEqual Iterator = 5
	IterGreaterThan        Iterator = 6
	IterBitsAllSet         Iterator = 7
	IterBitsAnySet         Iterator = 8
	// IterBitsAllNotSet has no alias in iteratorAliases: it is reachable
	// only by passing the typed Iterator value directly to Select.
	IterBitsAllNotSet Iterator = 9
	IterRtreeOverlaps Iterator = 10
	IterRtreeNeighbor Iterator = 11
)

// iteratorAliases maps the string/symbol spellings accepted by Select's
// iterator argument to their typed Iterator value.
var iteratorAliases = map[string]Iterator{
	"eq":       IterEqual,
	"==":       IterEqual,
	"reveq":    IterReversedEqual,
	"==<":      IterReversedEqual,
	"all":      IterAll,
	"*":        IterAll,
	"lt":       IterLessThan,
	"<":        IterLessThan,
	"lte":      IterLessThanOrEqual,
	"<=":       IterLessThanOrEqual,
	"gte":      IterGreaterThanOrEqual,
	">=":       IterGreaterThanOrEqual,
	"gt":       IterGreaterThan,
	">":        IterGreaterThan,
	"bitall":   IterBitsAllSet,
	"&=":       IterBitsAllSet,
	"bitany":   IterBitsAnySet,
	"&":        IterBitsAnySet,
	"overlaps": IterRtreeOverlaps,
	"&&":       IterRtreeOverlaps,
	"neighbor": IterRtreeNeighbor,
	"<->":      IterRtreeNeighbor,
}

// resolveIterator accepts either a typed Iterator or a string/symbol
// alias and returns the typed value, failing with BadArgument on an
// unknown alias or an unsupported Go type.
func resolveIterator(v interface{}) (Iterator, error) {
	switch it := v.(type) {
	case Iterator:
		return it, nil
	case int:
		return Iterator(it), nil
	case uint32:
		return Iterator(it), nil
	case string:
		if alias, ok := iteratorAliases[it]; ok {
			return alias, nil
		}
		return 0, newError(BadArgument, "unknown iterator alias %q", it)
	case nil:
		return IterEqual, nil
	default:
		return 0, newError(BadArgument, "unsupported iterator type %T", v)
	}
}

const (
	// defaultSelectLimit is used when a caller does not specify a limit,
	// per the reference client's convention of "effectively unbounded".
	defaultSelectLimit = uint32(1) << 30

	// frameLengthBytes is the size of the length-prefix that precedes
	// every request and response frame on the wire.
	frameLengthBytes = 5

	// frameLengthTag is the msgpack u32 marker that byte 0 of the
	// length prefix always carries.
	frameLengthTag = 0xce

	// greetingSize is the fixed number of bytes the server writes
	// immediately after accept, before any request may be sent.
	greetingSize = 128

	// saltLineLength is the number of significant base64 characters at
	// the start of the greeting's 64-byte second line.
	saltLineLength = 44
	anonymousUser  = "guest"
)
