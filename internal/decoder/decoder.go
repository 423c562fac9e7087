package decoder

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goran-ethernal/ContractSync/internal/logger"
)

// Field is one decoded event input.
type Field struct {
	Name    string
	ABIType string
	Indexed bool
	Value   Value
}

// Occurrence is one decoded log of a tracked event.
type Occurrence struct {
	ContractID  uint64
	EventID     uint64
	EventName   string
	MhKey       string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint

	// Fields holds indexed fields followed by non-indexed fields, each group in declaration order.
	Fields []Field

	// Omitted lists indexed inputs whose topic was missing or could not be decoded.
	Omitted []Omission
}

// Omission is an indexed input left out of an occurrence.
type Omission struct {
	Name    string
	ABIType string
	Reason  string
}

// OmittedNames returns the names of the omitted inputs in declaration order.
func (o Occurrence) OmittedNames() []string {
	names := make([]string, 0, len(o.Omitted))
	for _, om := range o.Omitted {
		names = append(names, om.Name)
	}
	return names
}

// Source identifies the receipt being decoded.
type Source struct {
	ContractID  uint64
	Address     common.Address
	BlockNumber uint64
	TxHash      common.Hash
	MhKey       string
}

// Result is the outcome of decoding one receipt.
type Result struct {
	Occurrences []Occurrence

	// Failed counts matching logs whose data could not be decoded.
	Failed int
}

// Decoder decodes receipt logs of tracked events.
type Decoder struct {
	log *logger.Logger
}

// New creates a new Decoder.
func New(log *logger.Logger) *Decoder {
	return &Decoder{log: log}
}

// DecodeReceipt decodes every log of the receipt emitted by src.Address whose topic0 matches one of defs.
// Logs of other addresses and unknown topics are skipped.
// An error is returned only when the receipt itself cannot be parsed.
func (d *Decoder) DecodeReceipt(raw []byte, src Source, defs []*EventDef) (Result, error) {
	logs, err := ParseReceipt(raw)
	if err != nil {
		return Result{}, fmt.Errorf("tx %s: %w", src.TxHash.Hex(), err)
	}

	byTopic := make(map[common.Hash]*EventDef, len(defs))
	for _, def := range defs {
		byTopic[def.Topic()] = def
	}

	var res Result
	for i, l := range logs {
		if l.Address != src.Address || len(l.Topics) == 0 {
			continue
		}

		def, ok := byTopic[l.Topics[0]]
		if !ok {
			continue
		}

		occ, err := d.decodeLog(def, l)
		if err != nil {
			res.Failed++
			decodeFailureInc(def.Name)
			d.log.Warnw("failed to decode log data",
				"contract", src.ContractID, "event", def.Name, "block", src.BlockNumber,
				"tx", src.TxHash.Hex(), "log_index", i, "error", err)
			continue
		}

		occ.ContractID = src.ContractID
		occ.MhKey = src.MhKey
		occ.BlockNumber = src.BlockNumber
		occ.TxHash = src.TxHash
		occ.LogIndex = uint(i)

		if len(occ.Omitted) > 0 {
			reasons := make(map[string]string, len(occ.Omitted))
			for _, om := range occ.Omitted {
				reasons[om.Name] = om.Reason
			}
			d.log.Warnw("indexed fields omitted",
				"contract", src.ContractID, "event", def.Name, "block", src.BlockNumber,
				"tx", src.TxHash.Hex(), "log_index", i, "fields", occ.OmittedNames(), "reasons", reasons)
		}

		res.Occurrences = append(res.Occurrences, occ)
	}

	return res, nil
}

func (d *Decoder) decodeLog(def *EventDef, l Log) (Occurrence, error) {
	occ := Occurrence{
		EventID:   def.EventID,
		EventName: def.Name,
		Fields:    make([]Field, 0, len(def.Inputs)),
	}

	for i, arg := range def.indexed {
		if i+1 >= len(l.Topics) {
			occ.Omitted = append(occ.Omitted, Omission{
				Name:    arg.Name,
				ABIType: arg.Type.String(),
				Reason:  fmt.Sprintf("topic %d missing", i+1),
			})
			continue
		}

		v, err := decodeTopic(arg.Type, l.Topics[i+1])
		if err != nil {
			occ.Omitted = append(occ.Omitted, Omission{Name: arg.Name, ABIType: arg.Type.String(), Reason: err.Error()})
			continue
		}

		occ.Fields = append(occ.Fields, Field{Name: arg.Name, ABIType: arg.Type.String(), Indexed: true, Value: v})
	}

	values, err := def.nonIndexed.Unpack(l.Data)
	if err != nil {
		return Occurrence{}, fmt.Errorf("unpack data: %w", err)
	}
	if len(values) != len(def.nonIndexed) {
		return Occurrence{}, fmt.Errorf("unpack data: expected %d values, got %d", len(def.nonIndexed), len(values))
	}

	for i, arg := range def.nonIndexed {
		v, err := toValue(arg.Type, values[i])
		if err != nil {
			return Occurrence{}, fmt.Errorf("field %s: %w", arg.Name, err)
		}
		occ.Fields = append(occ.Fields, Field{Name: arg.Name, ABIType: arg.Type.String(), Value: v})
	}

	return occ, nil
}

// decodeTopic decodes a single indexed value from its 32 byte topic.
// Dynamic types are only present as the keccak256 hash of their encoding, which is kept as is.
func decodeTopic(t abi.Type, topic common.Hash) (Value, error) {
	switch t.T {
	case abi.BytesTy:
		return BytesValue(topic.Bytes()), nil
	case abi.StringTy, abi.SliceTy, abi.ArrayTy, abi.TupleTy:
		return TextValue(topic.Hex()), nil
	}

	values, err := abi.Arguments{{Type: t}}.Unpack(topic.Bytes())
	if err != nil {
		return Value{}, err
	}

	return toValue(t, values[0])
}

// toValue maps a value unpacked by go-ethereum onto Value.
func toValue(t abi.Type, v any) (Value, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		return integerValue(v)
	case abi.AddressTy:
		addr, ok := v.(common.Address)
		if !ok {
			return Value{}, fmt.Errorf("expected address, got %T", v)
		}
		return AddressValue(addr), nil
	case abi.BoolTy:
		b, ok := v.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected bool, got %T", v)
		}
		return BoolValue(b), nil
	case abi.BytesTy:
		b, ok := v.([]byte)
		if !ok {
			return Value{}, fmt.Errorf("expected bytes, got %T", v)
		}
		return BytesValue(b), nil
	case abi.FixedBytesTy, abi.FunctionTy:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Array {
			return Value{}, fmt.Errorf("expected byte array, got %T", v)
		}
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return TextValue(hexutil.Encode(b)), nil
	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %T", v)
		}
		return TextValue(strings.ReplaceAll(s, "\x00", "")), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return Value{}, fmt.Errorf("encode %s: %w", t.String(), err)
		}
		return TextValue(string(encoded)), nil
	}
}

func integerValue(v any) (Value, error) {
	if n, ok := v.(*big.Int); ok {
		return IntegerValue(n), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntegerValue(big.NewInt(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return IntegerValue(new(big.Int).SetUint64(rv.Uint())), nil
	default:
		return Value{}, fmt.Errorf("expected integer, got %T", v)
	}
}
