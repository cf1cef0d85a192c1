// Package audit persists the append-only invocation trail. Every
// authorization decision, allowed or denied, produces exactly one record,
// and Record does not return until the entry is durable. Records are
// hash chained: each carries the SHA-256 of its own content plus the
// hash of its predecessor, so tampering with any record invalidates
// every later one.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
)

// ErrChainBroken is returned by VerifyChain when a link or content hash
// does not match.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Filter selects records for Query. Zero fields match everything.
type Filter struct {
	RequesterID  string
	CommandName  string
	InvocationID string
	From         time.Time
	To           time.Time
	Limit        int
}

// Store is the durable backend behind a Recorder.
type Store interface {
	// Append persists one record. It must not return until the record
	// is durable, and must preserve insertion order.
	Append(ctx context.Context, rec *contracts.AuditRecord) error
	// Last returns the most recent record, or nil on an empty store.
	Last(ctx context.Context) (*contracts.AuditRecord, error)
	// Query returns matching records in sequence order.
	Query(ctx context.Context, f Filter) ([]*contracts.AuditRecord, error)
	Close() error
}

// Recorder seals records into the hash chain and hands them to a Store.
// Record serializes internally so concurrent pipeline workers cannot
// fork the chain.
type Recorder struct {
	store Store

	mu       sync.Mutex
	lastHash string
	lastSeq  uint64
}

// NewRecorder wraps a store, recovering the chain head from it.
func NewRecorder(ctx context.Context, store Store) (*Recorder, error) {
	r := &Recorder{store: store}
	last, err := store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: recover chain head: %w", err)
	}
	if last != nil {
		r.lastHash = last.RecordHash
		r.lastSeq = last.Sequence
	}
	return r, nil
}

// Record assigns identity, sequence, and chain hashes to rec and
// appends it durably. On any error the caller must treat the invocation
// as unaudited and fail closed.
func (r *Recorder) Record(ctx context.Context, rec *contracts.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.RecordID = uuid.NewString()
	rec.Sequence = r.lastSeq + 1
	rec.RecordedAt = time.Now().UTC()
	rec.PreviousHash = r.lastHash

	h, err := recordHash(rec)
	if err != nil {
		return fmt.Errorf("audit: hash record: %w", err)
	}
	rec.RecordHash = h

	if err := r.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	r.lastHash = rec.RecordHash
	r.lastSeq = rec.Sequence
	return nil
}

// Query reads matching records from the backing store.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]*contracts.AuditRecord, error) {
	return r.store.Query(ctx, f)
}

// VerifyChain recomputes every hash and link in the store.
func (r *Recorder) VerifyChain(ctx context.Context) error {
	recs, err := r.store.Query(ctx, Filter{})
	if err != nil {
		return err
	}
	prevHash := ""
	for i, rec := range recs {
		if rec.PreviousHash != prevHash {
			return fmt.Errorf("%w: link mismatch at sequence %d", ErrChainBroken, rec.Sequence)
		}
		h, err := recordHash(rec)
		if err != nil {
			return fmt.Errorf("audit: rehash sequence %d: %w", rec.Sequence, err)
		}
		if h != rec.RecordHash {
			return fmt.Errorf("%w: content hash mismatch at sequence %d", ErrChainBroken, rec.Sequence)
		}
		if i > 0 && rec.Sequence != recs[i-1].Sequence+1 {
			return fmt.Errorf("%w: sequence gap before %d", ErrChainBroken, rec.Sequence)
		}
		prevHash = rec.RecordHash
	}
	return nil
}

// Close releases the backing store.
func (r *Recorder) Close() error { return r.store.Close() }

// recordHash computes the SHA-256 of the record content. RecordHash
// itself is excluded; PreviousHash is included so the chain links.
func recordHash(rec *contracts.AuditRecord) (string, error) {
	shadow := *rec
	shadow.RecordHash = ""
	data, err := json.Marshal(&shadow)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
