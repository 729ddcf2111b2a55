package authority

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	bolt "go.etcd.io/bbolt"

	"megaluck/native/redeem"
)

var bucketIssued = []byte("issued")

// Ledger remembers the highest nonce signed per owner and class so queued
// authorizations survive a restart of the signer.
type Ledger interface {
	Last(owner solana.PublicKey, class redeem.ClaimClass) (uint64, error)
	Record(owner solana.PublicKey, class redeem.ClaimClass, nonce uint64) error
}

// BoltLedger is a Ledger backed by a single-file BoltDB database.
type BoltLedger struct {
	db *bolt.DB
}

// OpenBoltLedger opens (or creates) the ledger at path.
func OpenBoltLedger(path string) (*BoltLedger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIssued)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltLedger{db: db}, nil
}

func ledgerKey(owner solana.PublicKey, class redeem.ClaimClass) []byte {
	key := make([]byte, 0, len(owner)+1)
	key = append(key, owner[:]...)
	return append(key, byte(class))
}

func (l *BoltLedger) Last(owner solana.PublicKey, class redeem.ClaimClass) (uint64, error) {
	var last uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIssued).Get(ledgerKey(owner, class))
		if raw == nil {
			return nil
		}
		if len(raw) != 8 {
			return errors.New("authority: corrupt ledger entry")
		}
		last = binary.BigEndian.Uint64(raw)
		return nil
	})
	return last, err
}

// Record stores nonce unless a higher one is already present.
func (l *BoltLedger) Record(owner solana.PublicKey, class redeem.ClaimClass, nonce uint64) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIssued)
		key := ledgerKey(owner, class)
		if raw := bucket.Get(key); len(raw) == 8 && binary.BigEndian.Uint64(raw) >= nonce {
			return nil
		}
		var value [8]byte
		binary.BigEndian.PutUint64(value[:], nonce)
		return bucket.Put(key, value[:])
	})
}

func (l *BoltLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
