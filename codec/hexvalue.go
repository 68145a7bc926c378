package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// HexValue is either a single hex string or an arbitrarily nested array of
// hex strings, which is the shape the proof toolchain emits for proof points
// and public signals.
type HexValue struct {
	leaf   string
	items  []HexValue
	isList bool
}

// Hex returns a single-string HexValue
func Hex(s string) HexValue {
	return HexValue{leaf: s}
}

// List returns a nested HexValue made of the given items
func List(items ...HexValue) HexValue {
	return HexValue{items: items, isList: true}
}

// Strings returns a one-level HexValue of the given strings
func Strings(ss ...string) HexValue {
	items := make([]HexValue, len(ss))
	for i, s := range ss {
		items[i] = Hex(s)
	}
	return List(items...)
}

func (v HexValue) IsList() bool {
	return v.isList
}

// Items returns the direct children of a list value, nil for a leaf
func (v HexValue) Items() []HexValue {
	return v.items
}

// Leaf returns the string of a leaf value, "" for a list
func (v HexValue) Leaf() string {
	return v.leaf
}

// Map rebuilds v with every leaf replaced by f(leaf), keeping the nesting
func (v HexValue) Map(f func(string) (string, error)) (HexValue, error) {
	if !v.isList {
		s, err := f(v.leaf)
		if err != nil {
			return HexValue{}, err
		}
		return Hex(s), nil
	}
	items := make([]HexValue, len(v.items))
	for i, item := range v.items {
		mapped, err := item.Map(f)
		if err != nil {
			return HexValue{}, err
		}
		items[i] = mapped
	}
	return List(items...), nil
}

// Flatten returns the leaf strings depth-first, preserving order
func (v HexValue) Flatten() []string {
	var out []string
	v.flattenInto(&out)
	return out
}

func (v HexValue) flattenInto(out *[]string) {
	if !v.isList {
		*out = append(*out, v.leaf)
		return
	}
	for _, item := range v.items {
		item.flattenInto(out)
	}
}

func (v HexValue) MarshalJSON() ([]byte, error) {
	if !v.isList {
		return json.Marshal(v.leaf)
	}
	items := v.items
	if items == nil {
		items = []HexValue{}
	}
	return json.Marshal(items)
}

func (v *HexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty hex value")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Hex(s)
		return nil
	case '[':
		var items []HexValue
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*v = List(items...)
		return nil
	default:
		return fmt.Errorf("hex value must be a string or an array, got %s", b)
	}
}

// GobEncode lets gob based stores persist values with unexported fields
func (v HexValue) GobEncode() ([]byte, error) {
	return v.MarshalJSON()
}

func (v *HexValue) GobDecode(b []byte) error {
	return v.UnmarshalJSON(b)
}
