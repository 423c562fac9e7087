package decoder

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// receiptLogsIndex is the position of the logs list in a consensus receipt:
// [status or post state, cumulative gas used, bloom, logs].
const receiptLogsIndex = 3

// ErrMalformedReceipt is returned when a receipt does not have the consensus layout.
var ErrMalformedReceipt = errors.New("malformed receipt")

// Log is one log entry of a receipt.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// ParseReceipt extracts the logs of a consensus-encoded receipt.
// Typed (EIP-2718) receipts carry a single type byte before the RLP list.
func ParseReceipt(raw []byte) ([]Log, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedReceipt)
	}
	if raw[0] < 0x80 { //nolint:mnd
		raw = raw[1:]
	}

	var items []rlp.RawValue
	if err := rlp.DecodeBytes(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReceipt, err)
	}
	if len(items) <= receiptLogsIndex {
		return nil, fmt.Errorf("%w: expected at least %d items, got %d", ErrMalformedReceipt, receiptLogsIndex+1, len(items))
	}

	var logs []Log
	if err := rlp.DecodeBytes(items[receiptLogsIndex], &logs); err != nil {
		return nil, fmt.Errorf("%w: logs: %w", ErrMalformedReceipt, err)
	}

	return logs, nil
}
