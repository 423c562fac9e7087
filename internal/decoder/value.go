package decoder

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindInteger Kind = iota + 1
	KindAddress
	KindBool
	KindBytes
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindAddress:
		return "address"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a decoded ABI value. Only the field matching Kind is set:
// Int for integers, Str for addresses and text, Bool for booleans and Bytes for byte blobs.
type Value struct {
	Kind  Kind
	Int   *big.Int
	Str   string
	Bool  bool
	Bytes []byte
}

// IntegerValue holds an arbitrary precision integer.
func IntegerValue(v *big.Int) Value {
	return Value{Kind: KindInteger, Int: new(big.Int).Set(v)}
}

// AddressValue holds an address as lowercase 0x-prefixed hex.
func AddressValue(a common.Address) Value {
	return Value{Kind: KindAddress, Str: strings.ToLower(a.Hex())}
}

func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

func BytesValue(b []byte) Value {
	return Value{Kind: KindBytes, Bytes: common.CopyBytes(b)}
}

func TextValue(s string) Value {
	return Value{Kind: KindText, Str: s}
}

// String renders the value for logs and tabular output.
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return v.Int.String()
	case KindAddress, KindText:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindBytes:
		return "0x" + hex.EncodeToString(v.Bytes)
	default:
		return ""
	}
}
