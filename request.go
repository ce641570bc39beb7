package tnt

import (
	"context"

	"gopkg.in/vmihailenco/msgpack.v2"
)

// writeUint writes one body map entry whose value is a small unsigned
// integer. Encode errors on a bytes buffer never occur in practice,
// matching the reference client's own disregard for them here.
func writeUint(enc *msgpack.Encoder, key BodyKey, v uint64) {
	enc.EncodeUint64(uint64(key))
	enc.EncodeUint64(v)
}

func (c *Connection) resolveSpaceID(space interface{}) (uint32, error) {
	return c.Schema().resolveSpace(space)
}

func (c *Connection) resolveIndexID(spaceID uint32, index interface{}) (uint32, error) {
	return c.Schema().resolveIndex(spaceID, index)
}

// SelectOpts carries SELECT's optional arguments. A zero Limit means
// "unbounded" (defaultSelectLimit is substituted); a nil Iterator
// means IterEqual.
type SelectOpts struct {
	Iterator interface{}
	Offset   uint32
	Limit    uint32
}

// Ping round-trips an empty request, used both by callers directly
// and by the connection's own keepalive loop.
func (c *Connection) Ping() (*Response, error) {
	return c.PingContext(context.Background())
}

func (c *Connection) PingContext(ctx context.Context) (*Response, error) {
	return c.dispatch(ctx, PingCommand, "ping", nil)
}

// Select matches tuples in space against key using index and opts.
// space and index each accept either a name (resolved through the
// cached schema) or a numeric id.
func (c *Connection) Select(space, index interface{}, key interface{}, opts SelectOpts) (*Response, error) {
	return c.SelectContext(context.Background(), space, index, key, opts)
}

func (c *Connection) SelectContext(ctx context.Context, space, index interface{}, key interface{}, opts SelectOpts) (*Response, error) {
	spaceID, err := c.resolveSpaceID(space)
	if err != nil {
		return nil, err
	}
	indexID, err := c.resolveIndexID(spaceID, index)
	if err != nil {
		return nil, err
	}
	iter, err := resolveIterator(opts.Iterator)
	if err != nil {
		return nil, err
	}
	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = uint64(defaultSelectLimit)
	}
	if key == nil {
		key = []interface{}{}
	}

	return c.dispatch(ctx, SelectCommand, "select", func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(6)
		writeUint(enc, KeySpaceID, uint64(spaceID))
		writeUint(enc, KeyIndexID, uint64(indexID))
		writeUint(enc, KeyLimit, limit)
		writeUint(enc, KeyOffset, uint64(opts.Offset))
		writeUint(enc, KeyIterator, uint64(iter))
		enc.EncodeUint64(uint64(KeyKey))
		return enc.Encode(key)
	})
}

// Get is sugar for a Select that expects at most one matching tuple:
// equality iteration, limit 1.
func (c *Connection) Get(space, index interface{}, key interface{}) (*Response, error) {
	return c.GetContext(context.Background(), space, index, key)
}

func (c *Connection) GetContext(ctx context.Context, space, index interface{}, key interface{}) (*Response, error) {
	return c.SelectContext(ctx, space, index, key, SelectOpts{Iterator: IterEqual, Limit: 1})
}

// Insert adds tuple to space, failing with ServerError if its primary
// key already exists.
func (c *Connection) Insert(space interface{}, tuple interface{}) (*Response, error) {
	return c.InsertContext(context.Background(), space, tuple)
}

func (c *Connection) InsertContext(ctx context.Context, space interface{}, tuple interface{}) (*Response, error) {
	return c.storeTuple(ctx, InsertCommand, "insert", space, tuple)
}

// Replace adds or overwrites tuple in space by primary key.
func (c *Connection) Replace(space interface{}, tuple interface{}) (*Response, error) {
	return c.ReplaceContext(context.Background(), space, tuple)
}

func (c *Connection) ReplaceContext(ctx context.Context, space interface{}, tuple interface{}) (*Response, error) {
	return c.storeTuple(ctx, ReplaceCommand, "replace", space, tuple)
}

func (c *Connection) storeTuple(ctx context.Context, code CommandCode, op string, space interface{}, tuple interface{}) (*Response, error) {
	spaceID, err := c.resolveSpaceID(space)
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, code, op, func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(2)
		writeUint(enc, KeySpaceID, uint64(spaceID))
		enc.EncodeUint64(uint64(KeyTuple))
		return enc.Encode(tuple)
	})
}

// Delete removes the tuple matched by key through index in space, if
// any, returning the deleted tuple as Data.
func (c *Connection) Delete(space, index interface{}, key interface{}) (*Response, error) {
	return c.DeleteContext(context.Background(), space, index, key)
}

func (c *Connection) DeleteContext(ctx context.Context, space, index interface{}, key interface{}) (*Response, error) {
	spaceID, err := c.resolveSpaceID(space)
	if err != nil {
		return nil, err
	}
	indexID, err := c.resolveIndexID(spaceID, index)
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, DeleteCommand, "delete", func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(3)
		writeUint(enc, KeySpaceID, uint64(spaceID))
		writeUint(enc, KeyIndexID, uint64(indexID))
		enc.EncodeUint64(uint64(KeyKey))
		return enc.Encode(key)
	})
}

// Update applies ops to the tuple matched by key through index in
// space. ops is a sequence of [op, field, ...] entries, e.g. ["+", 2, 25]
// or the string splice [":", 1, 3, 0, "esh"]; it is sent under the
// Tuple body key.
func (c *Connection) Update(space, index interface{}, key interface{}, ops interface{}) (*Response, error) {
	return c.UpdateContext(context.Background(), space, index, key, ops)
}

func (c *Connection) UpdateContext(ctx context.Context, space, index interface{}, key interface{}, ops interface{}) (*Response, error) {
	spaceID, err := c.resolveSpaceID(space)
	if err != nil {
		return nil, err
	}
	indexID, err := c.resolveIndexID(spaceID, index)
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, UpdateCommand, "update", func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(4)
		writeUint(enc, KeySpaceID, uint64(spaceID))
		writeUint(enc, KeyIndexID, uint64(indexID))
		enc.EncodeUint64(uint64(KeyKey))
		if err := enc.Encode(key); err != nil {
			return err
		}
		enc.EncodeUint64(uint64(KeyTuple))
		return enc.Encode(ops)
	})
}

// Upsert inserts tuple, or applies ops to the existing tuple sharing
// its primary key.
func (c *Connection) Upsert(space interface{}, tuple interface{}, ops interface{}) (*Response, error) {
	return c.UpsertContext(context.Background(), space, tuple, ops)
}

func (c *Connection) UpsertContext(ctx context.Context, space interface{}, tuple interface{}, ops interface{}) (*Response, error) {
	spaceID, err := c.resolveSpaceID(space)
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, UpsertCommand, "upsert", func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(3)
		writeUint(enc, KeySpaceID, uint64(spaceID))
		enc.EncodeUint64(uint64(KeyTuple))
		if err := enc.Encode(tuple); err != nil {
			return err
		}
		enc.EncodeUint64(uint64(KeyOps))
		return enc.Encode(ops)
	})
}

// Call invokes a stored function by name with args, using the 1.7+
// CALL encoding that returns the function's results verbatim rather
// than wrapping them in an extra tuple (Call16Command's behavior).
func (c *Connection) Call(fn string, args interface{}) (*Response, error) {
	return c.CallContext(context.Background(), fn, args)
}

func (c *Connection) CallContext(ctx context.Context, fn string, args interface{}) (*Response, error) {
	if args == nil {
		args = []interface{}{}
	}
	return c.dispatch(ctx, CallCommand, "call", func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(2)
		enc.EncodeUint64(uint64(KeyFunctionName))
		if err := enc.EncodeString(fn); err != nil {
			return err
		}
		enc.EncodeUint64(uint64(KeyTuple))
		return enc.Encode(args)
	})
}

// Eval runs a Lua expression on the server with args bound as ...
// and returns its results as Data.
func (c *Connection) Eval(expr string, args interface{}) (*Response, error) {
	return c.EvalContext(context.Background(), expr, args)
}

func (c *Connection) EvalContext(ctx context.Context, expr string, args interface{}) (*Response, error) {
	return c.evalContext(ctx, expr, args)
}

func (c *Connection) evalContext(ctx context.Context, expr string, args interface{}) (*Response, error) {
	if args == nil {
		args = []interface{}{}
	}
	return c.dispatch(ctx, EvalCommand, "eval", func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(2)
		enc.EncodeUint64(uint64(KeyExpression))
		if err := enc.EncodeString(expr); err != nil {
			return err
		}
		enc.EncodeUint64(uint64(KeyTuple))
		return enc.Encode(args)
	})
}
