// Package address derives deterministic record and account addresses from a
// tag and the fields that identify the record. Two records with the same
// seeds share an address, so a collision means the record already exists.
package address

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Seed tags.
const (
	ConfigSeed   = "config"
	MarketSeed   = "market"
	PositionSeed = "position"
	AccountSeed  = "account"
)

// Derive hashes the tag and seeds with Keccak-256. Each seed is length
// prefixed so that adjacent seeds cannot be re-split into a different tuple.
func Derive(tag string, seeds ...[]byte) common.Hash {
	buf := make([]byte, 0, 64)
	buf = appendSeed(buf, []byte(tag))
	for _, s := range seeds {
		buf = appendSeed(buf, s)
	}
	return ethcrypto.Keccak256Hash(buf)
}

func appendSeed(buf, seed []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(seed)))
	return append(buf, seed...)
}

// Config returns the address of the protocol configuration singleton.
func Config() common.Hash {
	return Derive(ConfigSeed)
}

// Market returns the address of the market for a price feed and deadline.
func Market(priceFeedID common.Hash, resolveTs int64) common.Hash {
	ts := binary.LittleEndian.AppendUint64(nil, uint64(resolveTs))
	return Derive(MarketSeed, priceFeedID.Bytes(), ts)
}

// Position returns the address of owner's position in market.
func Position(owner common.Address, market common.Hash) common.Hash {
	return Derive(PositionSeed, owner.Bytes(), market.Bytes())
}

// Account returns the address of owner's value account for unit.
func Account(owner common.Hash, unit common.Address) common.Hash {
	return Derive(AccountSeed, owner.Bytes(), unit.Bytes())
}

// Owner widens an identity into an account owner.
func Owner(identity common.Address) common.Hash {
	return common.BytesToHash(identity.Bytes())
}
