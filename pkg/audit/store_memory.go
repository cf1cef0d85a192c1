package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
)

var errAppendDisabled = errors.New("audit: appends disabled")

// MemoryStore keeps the audit trail in process memory. It exists for
// tests and ephemeral deployments; production uses the SQLite store.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []*contracts.AuditRecord

	// FailAppends forces Append to fail, for exercising the fail-closed
	// path in tests.
	FailAppends bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec *contracts.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppends {
		return errAppendDisabled
	}
	cp := *rec
	s.recs = append(s.recs, &cp)
	return nil
}

func (s *MemoryStore) Last(context.Context) (*contracts.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.recs) == 0 {
		return nil, nil
	}
	cp := *s.recs[len(s.recs)-1]
	return &cp, nil
}

func (s *MemoryStore) Query(_ context.Context, f Filter) ([]*contracts.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.AuditRecord
	for _, rec := range s.recs {
		if !matches(rec, f) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func matches(rec *contracts.AuditRecord, f Filter) bool {
	if f.RequesterID != "" && rec.Requester.UserID != f.RequesterID {
		return false
	}
	if f.CommandName != "" && rec.CommandName != f.CommandName {
		return false
	}
	if f.InvocationID != "" && rec.InvocationID != f.InvocationID {
		return false
	}
	if !f.From.IsZero() && rec.RecordedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.RecordedAt.After(f.To) {
		return false
	}
	return true
}
