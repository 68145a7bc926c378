package utils

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ========== Hex/Bytes ==========

// IsHex validates whether each byte is a valid hexadecimal character.
// Unlike hex.DecodeString it does not require an even length.
func IsHex(str string) bool {
	for _, c := range []byte(str) {
		if !IsHexCharacter(c) {
			return false
		}
	}
	return true
}

// IsHexCharacter returns bool of c being a valid hexadecimal.
func IsHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// Has0xPrefix validates str begins with '0x' or '0X'.
func Has0xPrefix(str string) bool {
	return len(str) >= 2 && str[0] == '0' && (str[1] == 'x' || str[1] == 'X')
}

// Strip0x removes an optional 0x/0X prefix
func Strip0x(s string) string {
	if Has0xPrefix(s) {
		return s[2:]
	}
	return s
}

// PadEven left pads s with a single '0' when its length is odd
func PadEven(s string) string {
	if len(s)%2 == 1 {
		return "0" + s
	}
	return s
}

// Hex2Bytes supports hex string with or without 0x prefix and odd lengths.
func Hex2Bytes(s string) ([]byte, error) {
	s = PadEven(Strip0x(s))
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hex.DecodeString err: %w", err)
	}
	return b, nil
}

// Bytes2Hex returns hex string without 0x prefix
func Bytes2Hex(b []byte) string {
	return hex.EncodeToString(b)
}

// Bytes2Hex0x returns hex string with 0x prefix, "0x" for empty input
func Bytes2Hex0x(b []byte) string {
	return hexutil.Encode(b)
}

func ArrayBytes2Hex0x(in [][]byte) []string {
	ret := make([]string, 0, len(in))
	for _, e := range in {
		ret = append(ret, Bytes2Hex0x(e))
	}
	return ret
}

// Dec2Hex0x converts a base-10 integer string (as emitted by snarkjs) to a
// 0x-prefixed hex string. Strings already carrying 0x are returned unchanged.
func Dec2Hex0x(s string) (string, error) {
	if Has0xPrefix(s) {
		return s, nil
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return "", fmt.Errorf("%q is not a valid decimal value", s)
	}
	if v.Sign() < 0 {
		return "", fmt.Errorf("%q is negative", s)
	}
	return fmt.Sprintf("0x%x", v), nil
}

// NormalizeAddress lower-cases an account address and makes sure it carries
// a 0x prefix. Short addresses such as 0x1 are kept short.
func NormalizeAddress(addr string) string {
	return "0x" + strings.ToLower(Strip0x(strings.TrimSpace(addr)))
}
