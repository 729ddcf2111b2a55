package redeem

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
)

const (
	claimMessageLen     = 4*32 + 6*8
	rankClaimMessageLen = 2*32 + 5*8
	depositMessageLen   = 1 + 32 + 3*8

	// Holder messages open with an operation tag so a signature for one
	// operation never verifies as another.
	holderOpLottery byte = 0x01
	holderOpDeposit byte = 0x02
)

type messageWriter struct {
	buf []byte
}

func (w *messageWriter) identity(pk solana.PublicKey) {
	w.buf = append(w.buf, pk[:]...)
}

func (w *messageWriter) uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// ClaimMessage returns the canonical bytes the authority signs for a standard claim:
// payer, r1, r2, r3, orderType, a1, a2, a3, timestamp, nonce.
func ClaimMessage(req *ClaimRequest, nonce uint64) []byte {
	w := messageWriter{buf: make([]byte, 0, claimMessageLen)}
	w.identity(req.Payer)
	for _, r := range req.Recipients {
		w.identity(r)
	}
	w.uint64(req.OrderType)
	for _, a := range req.Amounts {
		w.uint64(a)
	}
	w.uint64(req.Timestamp)
	w.uint64(nonce)
	return w.buf
}

// RankClaimMessage returns the canonical bytes for a rank claim:
// payer, recipient, startTime, endTime, amount, timestamp, nonce.
func RankClaimMessage(req *RankClaimRequest, nonce uint64) []byte {
	w := messageWriter{buf: make([]byte, 0, rankClaimMessageLen)}
	w.identity(req.Payer)
	w.identity(req.Recipient)
	w.uint64(req.StartTime)
	w.uint64(req.EndTime)
	w.uint64(req.Amount)
	w.uint64(req.Timestamp)
	w.uint64(nonce)
	return w.buf
}

// LotteryMessage returns the bytes a payer signs to enter the lottery:
// tag, payer, nftMint, name length (u16), name, timestamp, nonce.
func LotteryMessage(req *LotteryEntry, nonce uint64) []byte {
	w := messageWriter{buf: make([]byte, 0, 1+2*32+2+len(req.Name)+2*8)}
	w.buf = append(w.buf, holderOpLottery)
	w.identity(req.Payer)
	w.identity(req.NFTMint)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(req.Name)))
	w.buf = append(w.buf, req.Name...)
	w.uint64(req.Timestamp)
	w.uint64(nonce)
	return w.buf
}

// DepositMessage returns the bytes a holder signs to deposit:
// tag, from, amount, timestamp, nonce.
func DepositMessage(req *DepositRequest, nonce uint64) []byte {
	w := messageWriter{buf: make([]byte, 0, depositMessageLen)}
	w.buf = append(w.buf, holderOpDeposit)
	w.identity(req.From)
	w.uint64(req.Amount)
	w.uint64(req.Timestamp)
	w.uint64(nonce)
	return w.buf
}

// MessageHash is the Keccak-256 digest that is signed and verified.
func MessageHash(msg []byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(msg))
	return out
}

// ClaimHash is MessageHash(ClaimMessage(req, nonce)).
func ClaimHash(req *ClaimRequest, nonce uint64) [32]byte {
	return MessageHash(ClaimMessage(req, nonce))
}

// RankClaimHash is MessageHash(RankClaimMessage(req, nonce)).
func RankClaimHash(req *RankClaimRequest, nonce uint64) [32]byte {
	return MessageHash(RankClaimMessage(req, nonce))
}

// LotteryHash is MessageHash(LotteryMessage(req, nonce)).
func LotteryHash(req *LotteryEntry, nonce uint64) [32]byte {
	return MessageHash(LotteryMessage(req, nonce))
}

// DepositHash is MessageHash(DepositMessage(req, nonce)).
func DepositHash(req *DepositRequest, nonce uint64) [32]byte {
	return MessageHash(DepositMessage(req, nonce))
}
