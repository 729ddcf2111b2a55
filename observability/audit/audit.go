package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"megaluck/core/events"
)

// ErrChainBroken reports a record whose digest does not extend its predecessor.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Record is one append-only audit row derived from an emitted event. Each row
// commits to the previous row's digest.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement:false"`
	ID         uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Payer      string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
	PrevDigest string    `gorm:"size:64"`
	Digest     string    `gorm:"size:64;uniqueIndex"`
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "redeem_audit" }

// Decode returns the attribute map stored with the record.
func (r Record) Decode() (map[string]string, error) {
	out := make(map[string]string)
	if r.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeDelimited(buf *bytes.Buffer, value string) {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(value)))
	buf.Write(size[:])
	buf.WriteString(value)
}

// computeDigest hashes the record contents together with prev. Timestamps are
// truncated to microseconds so the digest survives a database round trip.
func computeDigest(prev string, r *Record) string {
	buf := new(bytes.Buffer)
	writeDelimited(buf, prev)
	_ = binary.Write(buf, binary.BigEndian, r.Seq)
	writeDelimited(buf, r.ID.String())
	writeDelimited(buf, r.Type)
	writeDelimited(buf, r.Payer)
	writeDelimited(buf, r.Attributes)
	_ = binary.Write(buf, binary.BigEndian, r.CreatedAt.UnixMicro())
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Sink persists events to a SQL database. It satisfies events.Emitter.
type Sink struct {
	db     *gorm.DB
	clock  clockwork.Clock
	logger *slog.Logger

	mu         sync.Mutex
	lastSeq    uint64
	lastDigest string
}

// dialectorFor selects postgres for postgres:// URLs and sqlite otherwise.
func dialectorFor(dsn string) gorm.Dialector {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Open opens (or creates) the audit database at dsn and migrates the schema.
func Open(dsn string) (*Sink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("audit: empty dsn")
	}
	db, err := gorm.Open(dialectorFor(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and resumes the hash chain from its last row.
func New(db *gorm.DB) (*Sink, error) {
	if db == nil {
		return nil, errors.New("audit: nil database")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	s := &Sink{
		db:     db,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default().With(slog.String("component", "audit")),
	}
	var last []Record
	if err := db.Order("seq DESC").Limit(1).Find(&last).Error; err != nil {
		return nil, fmt.Errorf("audit: load chain head: %w", err)
	}
	if len(last) == 1 {
		s.lastSeq = last[0].Seq
		s.lastDigest = last[0].Digest
	}
	return s, nil
}

// SetClock overrides the clock used for row timestamps.
func (s *Sink) SetClock(clock clockwork.Clock) {
	if clock != nil {
		s.clock = clock
	}
}

// Emit writes typed events. Failures are logged and never propagate to the
// emitting transition.
func (s *Sink) Emit(evt events.Event) {
	if _, err := s.Append(evt); err != nil {
		s.logger.Error("audit: append event", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores the event and returns the inserted row. Events that do not
// render attributes are skipped.
func (s *Sink) Append(evt events.Event) (*Record, error) {
	typed, ok := evt.(events.Typed)
	if !ok {
		return nil, nil
	}
	rendered := typed.Event()
	if rendered == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record := &Record{
		Seq:        s.lastSeq + 1,
		ID:         uuid.New(),
		Type:       rendered.Type,
		Payer:      rendered.Attr("payer"),
		Attributes: string(encoded),
		CreatedAt:  s.clock.Now().UTC().Truncate(time.Microsecond),
		PrevDigest: s.lastDigest,
	}
	record.Digest = computeDigest(record.PrevDigest, record)
	if err := s.db.Create(record).Error; err != nil {
		return nil, err
	}
	s.lastSeq = record.Seq
	s.lastDigest = record.Digest
	return record, nil
}

// Query filters audit rows. Zero values match everything.
type Query struct {
	Type  string
	Payer string
	Limit int
}

const maxQueryLimit = 500

// List returns matching rows, newest first.
func (s *Sink) List(q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	tx := s.db.Model(&Record{})
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.Payer != "" {
		tx = tx.Where("payer = ?", q.Payer)
	}
	var out []Record
	if err := tx.Order("seq DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Verify walks the whole log in sequence order and returns the number of rows
// checked. The first broken link is reported with ErrChainBroken.
func (s *Sink) Verify() (uint64, error) {
	var (
		batch   []Record
		prev    string
		next    uint64 = 1
		checked uint64
		broken  error
	)
	res := s.db.Model(&Record{}).FindInBatches(&batch, maxQueryLimit, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			r := &batch[i]
			switch {
			case r.Seq != next:
				broken = fmt.Errorf("%w: expected seq %d, found %d", ErrChainBroken, next, r.Seq)
			case r.PrevDigest != prev:
				broken = fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, r.Seq)
			case computeDigest(prev, r) != r.Digest:
				broken = fmt.Errorf("%w: seq %d digest mismatch", ErrChainBroken, r.Seq)
			}
			if broken != nil {
				return broken
			}
			prev = r.Digest
			next++
			checked++
		}
		return nil
	})
	if broken != nil {
		return checked, broken
	}
	if res.Error != nil {
		return checked, res.Error
	}
	return checked, nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
