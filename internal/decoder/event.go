package decoder

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EventDef is a tracked event type resolved against one contract ABI.
// The topic hash is computed once on construction.
type EventDef struct {
	EventID uint64
	Name    string
	Inputs  abi.Arguments

	signature  string
	topic      common.Hash
	indexed    abi.Arguments
	nonIndexed abi.Arguments
}

// NewEventDef builds the definition of ev tracked under eventID.
// Unnamed inputs are named arg<position>.
func NewEventDef(eventID uint64, ev abi.Event) *EventDef {
	def := &EventDef{
		EventID: eventID,
		Name:    ev.RawName,
		Inputs:  make(abi.Arguments, 0, len(ev.Inputs)),
	}
	if def.Name == "" {
		def.Name = ev.Name
	}

	for i, in := range ev.Inputs {
		if strings.TrimSpace(in.Name) == "" {
			in.Name = fmt.Sprintf("arg%d", i)
		}
		def.Inputs = append(def.Inputs, in)

		if in.Indexed {
			def.indexed = append(def.indexed, in)
		} else {
			def.nonIndexed = append(def.nonIndexed, in)
		}
	}

	def.signature = Signature(def.Name, def.Inputs)
	def.topic = TopicHash(def.signature)

	return def
}

// Topic returns the keccak256 hash of the canonical signature, matched against topic0 of logs.
func (d *EventDef) Topic() common.Hash {
	return d.topic
}

// Signature returns the canonical signature, e.g. Transfer(address,address,uint256).
func (d *EventDef) Signature() string {
	return d.signature
}

// Signature builds the canonical event signature from the input types.
func Signature(name string, inputs abi.Arguments) string {
	types := make([]string, len(inputs))
	for i, in := range inputs {
		types[i] = in.Type.String()
	}
	return name + "(" + strings.Join(types, ",") + ")"
}

// TopicHash hashes a canonical event signature.
func TopicHash(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}
