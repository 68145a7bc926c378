package codec

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeEvenStrings(t *testing.T) {
	b, err := Encode(Strings("0a0b", "ff"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x0a, 0x0b, 0xff}, b)
}

func TestEncodeOddStrings(t *testing.T) {
	b, err := Encode(Strings("abc", "1"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x0a, 0xbc, 0x01}, b)
}

func TestEncodeMixedPrefix(t *testing.T) {
	b, err := Encode(Strings("0x1", "23", "0XfF", "0x"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x23, 0xff}, b)
}

func TestEncodeSingleValue(t *testing.T) {
	b, err := Encode(Hex("0x123"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x23}, b)
}

func TestEncodeDeeplyNested(t *testing.T) {
	v := List(
		Hex("1"),
		List(List(List(Hex("0x02"), Hex("3"))), Hex("")),
		List(),
		List(List(Hex("0x456"))),
	)
	require.Equal(t, []string{"1", "0x02", "3", "", "0x456"}, v.Flatten())
	b, err := Encode(v)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x56}, b)
}

// ["0x1", "23"] -> ["1","23"] -> ["01","23"] -> "0123" -> [0x01, 0x23]
func TestEncodeNestedOneLevel(t *testing.T) {
	var v HexValue
	require.NoError(t, json.Unmarshal([]byte(`["0x1", "23"]`), &v))
	b, err := Encode(v)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x23}, b)

	display, err := EncodeForDisplay(v)
	require.NoError(t, err)
	require.Equal(t, "[0x01, 0x23]", display)
}

// Padding the concatenation instead of each fragment would shift every later byte.
func TestEncodePadsEachFragment(t *testing.T) {
	b, err := Encode(Strings("12", "3", "45"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x12, 0x03, 0x45}, b)
}

func TestEncodeRejectsNonHex(t *testing.T) {
	_, err := Encode(Strings("0x12", "zz"))
	require.Error(t, err)
	var invErr *EncodingInvariantError
	require.True(t, errors.As(err, &invErr))
	require.Equal(t, 1, invErr.Index)
	require.Equal(t, "zz", invErr.Fragment)

	_, err = EncodeAll([]HexValue{Hex("01"), Hex("0xg1")})
	require.True(t, errors.As(err, &invErr))
}

func TestEncodeForDisplayEmpty(t *testing.T) {
	s, err := EncodeForDisplay(List())
	require.NoError(t, err)
	require.Equal(t, "[]", s)
}

func TestHexValueJSON(t *testing.T) {
	var v HexValue
	require.NoError(t, json.Unmarshal([]byte(`[["1","2"],["3","4"],["1","0"]]`), &v))
	require.True(t, v.IsList())
	require.Len(t, v.Items(), 3)
	require.Equal(t, []string{"1", "2", "3", "4", "1", "0"}, v.Flatten())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `[["1","2"],["3","4"],["1","0"]]`, string(out))

	require.Error(t, json.Unmarshal([]byte(`12`), &v))
	require.Error(t, json.Unmarshal([]byte(`["1", {"a":"b"}]`), &v))
}

func hexFragment() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		body := rapid.StringMatching(`[0-9a-fA-F]{0,9}`).Draw(t, "body")
		if rapid.Bool().Draw(t, "prefixed") {
			return "0x" + body
		}
		return body
	})
}

func hexTree(depth int) *rapid.Generator[HexValue] {
	return rapid.Custom(func(t *rapid.T) HexValue {
		if depth == 0 || rapid.Bool().Draw(t, "leaf") {
			return Hex(hexFragment().Draw(t, "frag"))
		}
		items := rapid.SliceOfN(hexTree(depth-1), 0, 4).Draw(t, "items")
		return List(items...)
	})
}

func TestEncodeLengthProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := hexTree(4).Draw(t, "value")
		want := 0
		for _, f := range v.Flatten() {
			n := len(strings.TrimPrefix(f, "0x"))
			want += (n + 1) / 2
		}
		b, err := Encode(v)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(b) != want {
			t.Fatalf("len %d, want %d", len(b), want)
		}
		again, err := Encode(v)
		if err != nil || string(again) != string(b) {
			t.Fatalf("encode is not deterministic")
		}
	})
}

func TestEncodeRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := hexTree(3).Draw(t, "value")
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back HexValue
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		b1, _ := Encode(v)
		b2, _ := Encode(back)
		if string(b1) != string(b2) {
			t.Fatalf("re-serialized value encodes differently")
		}
	})
}

// Each odd fragment gains exactly one leading '0' and fragments keep their order.
func TestPaddingOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frags := rapid.SliceOfN(rapid.StringMatching(`[0-9a-f]{1,7}`), 1, 8).Draw(t, "frags")
		b, err := Encode(Strings(frags...))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		var want strings.Builder
		for _, f := range frags {
			if len(f)%2 == 1 {
				want.WriteString("0")
			}
			want.WriteString(f)
		}
		got := hex.EncodeToString(b)
		if got != want.String() {
			t.Fatalf("got %s, want %s", got, want.String())
		}
	})
}

func TestMapKeepsNesting(t *testing.T) {
	v := List(Strings("1", "2"), Hex("3"))
	mapped, err := v.Map(func(s string) (string, error) { return "0x" + s, nil })
	require.NoError(t, err)
	require.Equal(t, []string{"0x1", "0x2", "0x3"}, mapped.Flatten())
	require.True(t, mapped.Items()[0].IsList())
	require.Equal(t, "0x3", mapped.Items()[1].Leaf())

	_, err = v.Map(func(s string) (string, error) { return "", errors.New("boom") })
	require.Error(t, err)
}
