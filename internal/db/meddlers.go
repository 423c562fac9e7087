package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("address", AddressMeddler{})
	meddler.Register("hash", HashMeddler{})
}

// AddressMeddler stores common.Address values as lowercase 0x-prefixed hex.
type AddressMeddler struct{}

func (AddressMeddler) PreRead(_ any) (any, error) {
	return new(sql.NullString), nil
}

func (AddressMeddler) PostRead(fieldAddr, scanTarget any) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Address:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		address := common.HexToAddress(ns.String)
		*ptr = &address
	case *common.Address:
		if !ns.Valid {
			*ptr = common.Address{}
			return nil
		}
		*ptr = common.HexToAddress(ns.String)
	default:
		return fmt.Errorf("expected *common.Address or **common.Address, got %T", fieldAddr)
	}

	return nil
}

func (AddressMeddler) PreWrite(field any) (any, error) {
	switch address := field.(type) {
	case *common.Address:
		if address == nil {
			return nil, nil
		}
		return strings.ToLower(address.Hex()), nil
	case common.Address:
		return strings.ToLower(address.Hex()), nil
	default:
		return nil, fmt.Errorf("expected common.Address or *common.Address, got %T", field)
	}
}

// HashMeddler stores common.Hash values as 0x-prefixed hex.
// The zero hash is written as NULL.
type HashMeddler struct{}

func (HashMeddler) PreRead(_ any) (any, error) {
	return new(sql.NullString), nil
}

func (HashMeddler) PostRead(fieldAddr, scanTarget any) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*common.Hash)
	if !ok {
		return fmt.Errorf("expected *common.Hash, got %T", fieldAddr)
	}

	if !ns.Valid {
		*ptr = common.Hash{}
		return nil
	}
	*ptr = common.HexToHash(ns.String)

	return nil
}

func (HashMeddler) PreWrite(field any) (any, error) {
	hash, ok := field.(common.Hash)
	if !ok {
		return nil, fmt.Errorf("expected common.Hash, got %T", field)
	}

	if hash == (common.Hash{}) {
		return nil, nil
	}

	return hash.Hex(), nil
}
