package tnt

import (
	"context"
	"fmt"
)

// Index is one secondary or primary key definition on a Space.
type Index struct {
	ID   uint32
	Name string
}

// Space is one resolved space definition: its numeric id and every
// index registered on it, indexed both by name and by id.
type Space struct {
	ID   uint32
	Name string

	indexesByName map[string]*Index
	indexesByID   map[uint32]*Index
}

// Schema is an immutable snapshot of every space and index known to
// the server at the time it was loaded. A Connection swaps its
// *Schema pointer atomically on refresh, so callers never observe a
// half-built schema.
type Schema struct {
	spacesByName map[string]*Space
	spacesByID   map[uint32]*Space
}

// Space looks up a space by name, returning ok=false if unknown.
func (s *Schema) Space(name string) (*Space, bool) {
	if s == nil {
		return nil, false
	}
	sp, ok := s.spacesByName[name]
	return sp, ok
}

// Index looks up an index by name on the space, returning ok=false if
// either is unknown.
func (sp *Space) Index(name string) (*Index, bool) {
	if sp == nil {
		return nil, false
	}
	idx, ok := sp.indexesByName[name]
	return idx, ok
}

// resolveSpace accepts a numeric space id or a space name and returns
// the numeric id, consulting the schema only when a name was given.
func (s *Schema) resolveSpace(v interface{}) (uint32, error) {
	switch sp := v.(type) {
	case uint32:
		return sp, nil
	case int:
		return uint32(sp), nil
	case uint64:
		return uint32(sp), nil
	case string:
		if s == nil {
			return 0, newError(NotResolved, "schema not loaded; space %q unresolved", sp)
		}
		space, ok := s.spacesByName[sp]
		if !ok {
			return 0, newError(NotResolved, "space %q not found in schema", sp)
		}
		return space.ID, nil
	default:
		return 0, newError(BadArgument, "unsupported space identifier type %T", v)
	}
}

// resolveIndex accepts a numeric index id, an index name, or nil (the
// primary index, id 0) and returns the numeric id.
func (s *Schema) resolveIndex(spaceID uint32, v interface{}) (uint32, error) {
	switch idx := v.(type) {
	case nil:
		return 0, nil
	case uint32:
		return idx, nil
	case int:
		return uint32(idx), nil
	case uint64:
		return uint32(idx), nil
	case string:
		if s == nil {
			return 0, newError(NotResolved, "schema not loaded; index %q unresolved", idx)
		}
		space, ok := s.spacesByID[spaceID]
		if !ok {
			return 0, newError(NotResolved, "space id %d not found for index lookup", spaceID)
		}
		index, ok := space.indexesByName[idx]
		if !ok {
			return 0, newError(NotResolved, "index %q not found on space id %d", idx, spaceID)
		}
		return index.ID, nil
	default:
		return 0, newError(BadArgument, "unsupported index identifier type %T", v)
	}
}

// Schema returns the most recently loaded schema snapshot, or nil if
// RefreshSchema has never been called.
func (c *Connection) Schema() *Schema {
	c.schemaMu.RLock()
	defer c.schemaMu.RUnlock()
	return c.schema
}

// RefreshSchema reloads space and index metadata via EVAL. Unlike the
// reference client, which resolves names by SELECTing the vspace and
// vindex system spaces, this walks box.space directly: one EVAL for
// the set of space names, then one per space for its id and its index
// table, since a Lua table that embeds functions cannot cross the
// wire as a single msgpack value.
func (c *Connection) RefreshSchema() error {
	return c.RefreshSchemaContext(context.Background())
}

func (c *Connection) RefreshSchemaContext(ctx context.Context) error {
	schema, err := c.loadSchema(ctx)
	if err != nil {
		return err
	}
	c.schemaMu.Lock()
	c.schema = schema
	c.schemaMu.Unlock()
	return nil
}

func (c *Connection) loadSchema(ctx context.Context) (*Schema, error) {
	top, err := c.evalContext(ctx, "return box.space", nil)
	if err != nil {
		return nil, err
	}
	names, err := decodeSpaceNames(top)
	if err != nil {
		return nil, err
	}

	schema := &Schema{
		spacesByName: make(map[string]*Space, len(names)),
		spacesByID:   make(map[uint32]*Space, len(names)),
	}

	for _, name := range names {
		idResp, err := c.evalContext(ctx, fmt.Sprintf("return box.space.%s.id", name), nil)
		if err != nil {
			return nil, err
		}
		id, err := decodeSpaceID(idResp)
		if err != nil {
			return nil, err
		}

		idxResp, err := c.evalContext(ctx, fmt.Sprintf("return box.space.%s.index", name), nil)
		if err != nil {
			return nil, err
		}
		indexes, err := decodeIndexes(idxResp)
		if err != nil {
			return nil, err
		}

		space := &Space{
			ID:            id,
			Name:          name,
			indexesByName: make(map[string]*Index, len(indexes)),
			indexesByID:   make(map[uint32]*Index, len(indexes)),
		}
		for _, idx := range indexes {
			space.indexesByName[idx.Name] = idx
			space.indexesByID[idx.ID] = idx
		}
		schema.spacesByName[name] = space
		schema.spacesByID[id] = space
	}

	return schema, nil
}

func evalResult(resp *Response) (interface{}, error) {
	if resp.Body == nil || len(resp.Body.Data) == 0 {
		return nil, newError(ProtocolError, "eval returned no data")
	}
	return resp.Body.Data[0], nil
}

// asStringMap coerces a msgpack-decoded Lua table into a
// map[string]interface{}, skipping any key that isn't a string
// (box.space.*.index carries some server-internal numeric aliases
// alongside the named entries). gopkg.in/vmihailenco/msgpack.v2's
// DecodeInterface never produces map[string]interface{} on its own —
// a generic map always decodes as map[interface{}]interface{} — so
// every eval result coming off the wire needs this conversion.
func asStringMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func decodeSpaceNames(resp *Response) ([]string, error) {
	v, err := evalResult(resp)
	if err != nil {
		return nil, err
	}
	var names []string
	if m, ok := asStringMap(v); ok {
		for name, raw := range m {
			if _, ok := asStringMap(raw); ok {
				names = append(names, name)
			}
		}
		return names, nil
	}
	if seq, ok := v.([]interface{}); ok {
		for _, entry := range seq {
			m, ok := asStringMap(entry)
			if !ok {
				continue
			}
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
		return names, nil
	}
	return nil, newError(ProtocolError, "unexpected box.space shape %T", v)
}

func decodeSpaceID(resp *Response) (uint32, error) {
	v, err := evalResult(resp)
	if err != nil {
		return 0, err
	}
	return toUint32(v)
}

func decodeIndexes(resp *Response) ([]*Index, error) {
	v, err := evalResult(resp)
	if err != nil {
		return nil, err
	}
	var out []*Index
	if m, ok := asStringMap(v); ok {
		for _, raw := range m {
			if idx, ok := decodeOneIndex(raw); ok {
				out = append(out, idx)
			}
		}
		return out, nil
	}
	if seq, ok := v.([]interface{}); ok {
		for _, raw := range seq {
			if idx, ok := decodeOneIndex(raw); ok {
				out = append(out, idx)
			}
		}
		return out, nil
	}
	return nil, newError(ProtocolError, "unexpected index table shape %T", v)
}

func decodeOneIndex(raw interface{}) (*Index, bool) {
	m, ok := asStringMap(raw)
	if !ok {
		return nil, false
	}
	name, _ := m["name"].(string)
	if name == "" {
		return nil, false
	}
	id, err := toUint32(m["id"])
	if err != nil {
		return nil, false
	}
	return &Index{ID: id, Name: name}, true
}

func toUint32(v interface{}) (uint32, error) {
	switch n := v.(type) {
	case uint32:
		return n, nil
	case uint64:
		return uint32(n), nil
	case int64:
		return uint32(n), nil
	case int:
		return uint32(n), nil
	default:
		return 0, newError(ProtocolError, "expected numeric value, got %T", v)
	}
}
