package state

import (
	"github.com/gagliardetto/solana-go"

	"megaluck/native/redeem"
)

var (
	configKeyBytes      = []byte("redeem/config")
	heightKeyBytes      = []byte("redeem/height")
	nonceStandardPrefix = []byte("ADDRESS")
	nonceRankPrefix     = []byte("ADDRESS_RANK")
	nonceHolderPrefix   = []byte("HOLDER")
	poolPrefix          = []byte("pool:")
	balancePrefix       = []byte("balance:")
)

// nonceKey returns the logical key of a nonce account; the stored key is its keccak hash.
func nonceKey(owner solana.PublicKey, class redeem.ClaimClass) []byte {
	prefix := nonceStandardPrefix
	switch class {
	case redeem.ClaimClassRank:
		prefix = nonceRankPrefix
	case redeem.ClaimClassHolder:
		prefix = nonceHolderPrefix
	}
	buf := make([]byte, len(prefix)+len(owner))
	copy(buf, prefix)
	copy(buf[len(prefix):], owner[:])
	return buf
}

func poolKey(asset solana.PublicKey) []byte {
	buf := make([]byte, len(poolPrefix)+len(asset))
	copy(buf, poolPrefix)
	copy(buf[len(poolPrefix):], asset[:])
	return buf
}

func balanceKey(asset, owner solana.PublicKey) []byte {
	buf := make([]byte, len(balancePrefix)+len(asset)+1+len(owner))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], asset[:])
	buf[len(balancePrefix)+len(asset)] = ':'
	copy(buf[len(balancePrefix)+len(asset)+1:], owner[:])
	return buf
}
