package events

import (
	"strconv"

	"github.com/gagliardetto/solana-go"
)

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

func identity(pk solana.PublicKey) string {
	if pk.IsZero() {
		return ""
	}
	return pk.String()
}
