package payload

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

func TestRoundTrip(t *testing.T) {
	cases := map[string]value.Value{
		"null":        value.Null(),
		"true":        value.Bool(true),
		"false":       value.Bool(false),
		"zero":        value.Int(0),
		"negative":    value.Int(-42),
		"max int":     value.Int(math.MaxInt64),
		"min int":     value.Int(math.MinInt64),
		"float":       value.Float(3.25),
		"whole float": value.Float(2),
		"tiny float":  value.Float(math.SmallestNonzeroFloat64),
		"string":      value.String("héllo, 世界"),
		"empty":       value.String(""),
		"sequence":    value.Sequence(value.Int(1), value.String("two"), value.Null()),
		"empty seq":   value.Sequence(),
		"mapping": value.Mapping(map[string]value.Value{
			"num":   value.Int(42),
			"inner": value.Mapping(map[string]value.Value{"ok": value.Bool(true)}),
			"list":  value.Sequence(value.Float(0.5)),
		}),
		"empty map": value.Mapping(nil),
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(v)
			require.NoError(t, err)
			assert.Equal(t, Version, data[0])

			got, err := Decode(data)
			require.NoError(t, err)
			assert.True(t, value.Equal(v, got), "want %s, got %s", v, got)
		})
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		v := randomValue(rng, 0)
		data, err := Encode(v)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		require.True(t, value.Equal(v, got), "iteration %d: want %s, got %s", i, v, got)

		again, err := Encode(got)
		require.NoError(t, err)
		require.True(t, bytes.Equal(data, again), "encoding is not canonical")
	}
}

func randomValue(rng *rand.Rand, level int) value.Value {
	max := 7
	if level > 4 {
		max = 5
	}
	switch rng.Intn(max) {
	case 0:
		return value.Null()
	case 1:
		return value.Bool(rng.Intn(2) == 0)
	case 2:
		return value.Int(rng.Int63() - rng.Int63())
	case 3:
		return value.Float(rng.NormFloat64() * 1e6)
	case 4:
		b := make([]rune, rng.Intn(8))
		for i := range b {
			b[i] = rune('a' + rng.Intn(26))
		}
		return value.String(string(b))
	case 5:
		items := make([]value.Value, rng.Intn(4))
		for i := range items {
			items[i] = randomValue(rng, level+1)
		}
		return value.Sequence(items...)
	default:
		entries := map[string]value.Value{}
		for i := rng.Intn(4); i > 0; i-- {
			entries[string(rune('a'+rng.Intn(26)))] = randomValue(rng, level+1)
		}
		return value.Mapping(entries)
	}
}

func TestEncodeUnrepresentable(t *testing.T) {
	cases := map[string]value.Value{
		"nan":          value.Float(math.NaN()),
		"inf":          value.Sequence(value.Float(math.Inf(1))),
		"bad utf8":     value.Mapping(map[string]value.Value{"s": value.String("\xff")}),
		"too deep":     nested(value.MaxDepth + 2),
		"nested inf":   value.Mapping(map[string]value.Value{"a": value.Sequence(value.Float(math.Inf(-1)))}),
		"bad utf8 key": value.Mapping(map[string]value.Value{"\xfe": value.Null()}),
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(v)
			assert.Nil(t, data)
			assert.True(t, errors.Is(err, rpcerr.ErrEncoding), "got %v", err)
		})
	}
}

func nested(depth int) value.Value {
	v := value.Int(1)
	for i := 0; i < depth; i++ {
		v = value.Sequence(v)
	}
	return v
}

func TestMarshalUnrepresentable(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	cases := map[string]any{
		"func":     map[string]any{"cb": func() {}},
		"chan":     make(chan int),
		"overflow": uint64(math.MaxUint64),
		"cyclic":   cyclic,
		"int keys": map[int]string{1: "a"},
		"complex":  complex(1, 2),
	}
	for name, x := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := Marshal(x)
			assert.Nil(t, data)
			assert.True(t, errors.Is(err, rpcerr.ErrEncoding), "got %v", err)
			assert.True(t, errors.Is(err, value.ErrUnrepresentable), "got %v", err)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	deep := append([]byte{Version}, bytes.Repeat([]byte{0x81}, 40)...)
	deep = append(deep, 0xf6)

	cases := map[string][]byte{
		"nil":            nil,
		"version only":   {Version},
		"bad version":    {0x7f, 0xf6},
		"truncated":      {Version, 0x82, 0x01},
		"trailing":       {Version, 0x01, 0x02},
		"tag":            {Version, 0xc1, 0x00},
		"byte string":    {Version, 0x41, 0x00},
		"uint overflow":  {Version, 0x1b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		"neg overflow":   {Version, 0x3b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		"int key":        {Version, 0xa1, 0x01, 0x02},
		"duplicate key":  {Version, 0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02},
		"nan":            {Version, 0xfb, 0x7f, 0xf8, 0, 0, 0, 0, 0, 0},
		"indefinite":     {Version, 0x9f, 0x01, 0xff},
		"deep":           deep,
		"invalid utf8":   {Version, 0x61, 0xff},
		"huge length":    {Version, 0x5b, 0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		"reserved major": {Version, 0x1c},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.True(t, errors.Is(err, rpcerr.ErrDecoding), "got %v", err)
		})
	}
}

func TestDecodeRandomBytesNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		data := make([]byte, rng.Intn(32))
		rng.Read(data)
		if len(data) > 0 {
			data[0] = Version
		}
		assert.NotPanics(t, func() {
			_, _ = Decode(data)
		})
	}
}

type numArgs struct {
	Num int `cbor:"num"`
}

func TestMarshalStructAndInto(t *testing.T) {
	data, err := Marshal(numArgs{Num: 42})
	require.NoError(t, err)

	v, err := Decode(data)
	require.NoError(t, err)
	num, ok := v.Get("num")
	require.True(t, ok)
	assert.Equal(t, int64(42), num.Int())

	var back numArgs
	require.NoError(t, Into(v, &back))
	assert.Equal(t, 42, back.Num)

	var fromJSONTag struct {
		Num int `json:"num"`
	}
	require.NoError(t, Unmarshal(data, &fromJSONTag))
	assert.Equal(t, 42, fromJSONTag.Num)
}

type Base struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type item struct {
	Base
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

func TestMarshalEmbeddedRoundTrip(t *testing.T) {
	in := item{Base: Base{ID: 7, Name: "hidden by item.Name"}, Name: "widget", Qty: 3}
	data, err := Marshal(in)
	require.NoError(t, err)

	v, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "qty"}, v.Keys())

	var out item
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, item{Base: Base{ID: 7}, Name: "widget", Qty: 3}, out)

	var viaInto item
	require.NoError(t, Into(v, &viaInto))
	assert.Equal(t, out, viaInto)
}
