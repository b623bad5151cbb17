// Package payload is the bridge Encoder: it turns a value.Value into a
// self-describing byte blob and back.
//
// Layout:
//
//	┌─────────┬──────────────────────────────┐
//	│ version │ canonical CBOR (RFC 8949)    │
//	│  0x01   │ sorted map keys, no tags     │
//	└─────────┴──────────────────────────────┘
//
// The leading version byte lets a future encoder reject payloads it does not
// understand instead of misparsing them. Decode treats its input as hostile:
// every malformed blob becomes a DecodingError, never a panic.
package payload

import (
	"fmt"
	"math"
	"math/big"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

// Version is the leading discriminator of every payload.
const Version byte = 0x01

// ContentType is used when a payload travels as an HTTP body.
const ContentType = "application/x-bridge-payload"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		ShortestFloat: cbor.ShortestFloatNone,
		IndefLength:   cbor.IndefLengthForbidden,
		TagsMd:        cbor.TagsForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("payload: invalid cbor encode options: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		TagsMd:          cbor.TagsForbidden,
		MaxNestedLevels: value.MaxDepth + 1,
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		IntDec:          cbor.IntDecConvertNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("payload: invalid cbor decode options: %v", err))
	}
}

// Encode serializes v. It fails with an rpcerr.ErrEncoding error, and no
// bytes, when v holds a non-finite float, invalid UTF-8 or nests too deep.
func Encode(v value.Value) ([]byte, error) {
	if err := value.Validate(v); err != nil {
		return nil, rpcerr.New(rpcerr.KindEncoding, "", err)
	}
	body, err := encMode.Marshal(v.Any())
	if err != nil {
		return nil, rpcerr.New(rpcerr.KindEncoding, "", err)
	}
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, Version)
	return append(buf, body...), nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (value.Value, error) {
	body, err := strip(data)
	if err != nil {
		return value.Null(), err
	}
	var raw any
	rest, err := decMode.UnmarshalFirst(body, &raw)
	if err != nil {
		return value.Null(), decodingError(err)
	}
	if len(rest) != 0 {
		return value.Null(), decodingError(fmt.Errorf("%d trailing bytes", len(rest)))
	}
	v, err := toValue(raw, 0)
	if err != nil {
		return value.Null(), decodingError(err)
	}
	return v, nil
}

// Marshal converts a native Go value with value.FromAny and encodes it.
func Marshal(x any) ([]byte, error) {
	v, err := value.FromAny(x)
	if err != nil {
		return nil, rpcerr.New(rpcerr.KindEncoding, "", err)
	}
	return Encode(v)
}

// Unmarshal decodes a payload straight into a typed Go destination.
// Struct fields are matched by `cbor` tag, then `json` tag, then name.
func Unmarshal(data []byte, dst any) error {
	body, err := strip(data)
	if err != nil {
		return err
	}
	rest, err := decMode.UnmarshalFirst(body, dst)
	if err != nil {
		return decodingError(err)
	}
	if len(rest) != 0 {
		return decodingError(fmt.Errorf("%d trailing bytes", len(rest)))
	}
	return nil
}

// Into copies v into a typed Go destination.
func Into(v value.Value, dst any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return Unmarshal(data, dst)
}

func strip(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, decodingError(fmt.Errorf("empty payload"))
	}
	if data[0] != Version {
		return nil, decodingError(fmt.Errorf("unsupported payload version 0x%02x", data[0]))
	}
	if len(data) == 1 {
		return nil, decodingError(fmt.Errorf("truncated payload"))
	}
	return data[1:], nil
}

func decodingError(err error) error {
	return rpcerr.New(rpcerr.KindDecoding, "", err)
}

func toValue(raw any, level int) (value.Value, error) {
	if level > value.MaxDepth {
		return value.Null(), fmt.Errorf("nesting deeper than %d", value.MaxDepth)
	}
	switch x := raw.(type) {
	case nil:
		return value.Null(), nil
	case bool:
		return value.Bool(x), nil
	case int64:
		return value.Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return value.Null(), fmt.Errorf("integer %d overflows int64", x)
		}
		return value.Int(int64(x)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return value.Null(), fmt.Errorf("non-finite float %v", x)
		}
		return value.Float(x), nil
	case string:
		return value.String(x), nil
	case []any:
		items := make([]value.Value, len(x))
		for i, item := range x {
			v, err := toValue(item, level+1)
			if err != nil {
				return value.Null(), err
			}
			items[i] = v
		}
		return value.Sequence(items...), nil
	case map[string]any:
		entries := make(map[string]value.Value, len(x))
		for k, item := range x {
			v, err := toValue(item, level+1)
			if err != nil {
				return value.Null(), err
			}
			entries[k] = v
		}
		return value.Mapping(entries), nil
	case big.Int, *big.Int:
		return value.Null(), fmt.Errorf("integer overflows int64")
	case []byte:
		return value.Null(), fmt.Errorf("byte strings are not supported")
	}
	return value.Null(), fmt.Errorf("unsupported cbor item %T", raw)
}
