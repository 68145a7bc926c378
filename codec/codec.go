// Package codec converts the proof toolchain's hex string output into the
// byte vectors the ledger expects as transaction arguments.
package codec

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/comreton-network/comreton-node/common/utils"
)

// EncodingInvariantError reports a fragment that cannot be interpreted as
// hex at all. It indicates a toolchain contract violation.
type EncodingInvariantError struct {
	Fragment string
	Index    int
	Reason   string
}

func (e *EncodingInvariantError) Error() string {
	return fmt.Sprintf("invalid hex fragment #%d %q: %s", e.Index, e.Fragment, e.Reason)
}

// normalize flattens v and returns each fragment without prefix and padded
// to an even length.
func normalize(v HexValue) ([]string, error) {
	frags := v.Flatten()
	out := make([]string, len(frags))
	for i, f := range frags {
		s := utils.Strip0x(f)
		if !utils.IsHex(s) {
			return nil, &EncodingInvariantError{Fragment: f, Index: i, Reason: "non-hex character"}
		}
		out[i] = utils.PadEven(s)
	}
	return out, nil
}

// Encode flattens v depth-first, strips optional 0x prefixes, left pads every
// odd-length fragment with a single '0' and decodes the concatenation as
// big-endian bytes.
func Encode(v HexValue) ([]byte, error) {
	frags, err := normalize(v)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(strings.Join(frags, ""))
	if err != nil {
		// unreachable after normalize
		return nil, &EncodingInvariantError{Fragment: strings.Join(frags, ""), Index: -1, Reason: err.Error()}
	}
	return b, nil
}

// EncodeAll encodes each value separately, for vector<vector<u8>> arguments
func EncodeAll(vs []HexValue) ([][]byte, error) {
	out := make([][]byte, len(vs))
	for i, v := range vs {
		b, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("value #%d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// EncodeForDisplay runs the same flatten and pad steps as Encode but renders
// the bytes as a bracketed list of hex literals, e.g. [0x01, 0x23], for use
// as an embedded constant in generated source.
func EncodeForDisplay(v HexValue) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("0x%02x", c)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}
