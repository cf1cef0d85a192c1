package audit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashab-cyber/lewis-core/pkg/audit"
	"github.com/yashab-cyber/lewis-core/pkg/contracts"
)

func record(invocation, user, command string) *contracts.AuditRecord {
	return &contracts.AuditRecord{
		InvocationID: invocation,
		Requester:    contracts.Requester{UserID: user, Roles: []string{"operator"}},
		CommandName:  command,
		Targets:      []string{"10.0.0.5"},
		Decision:     contracts.Allow(time.Now().UTC()),
	}
}

func TestRecorderChainsRecords(t *testing.T) {
	ctx := context.Background()
	rec, err := audit.NewRecorder(ctx, audit.NewMemoryStore())
	require.NoError(t, err)

	first := record("inv-1", "alice", "port-scan")
	require.NoError(t, rec.Record(ctx, first))
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Empty(t, first.PreviousHash)
	assert.NotEmpty(t, first.RecordHash)
	assert.NotEmpty(t, first.RecordID)

	second := record("inv-2", "alice", "web-scan")
	require.NoError(t, rec.Record(ctx, second))
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, first.RecordHash, second.PreviousHash)

	require.NoError(t, rec.VerifyChain(ctx))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	ctx := context.Background()
	store := audit.NewMemoryStore()
	rec, err := audit.NewRecorder(ctx, store)
	require.NoError(t, err)

	require.NoError(t, rec.Record(ctx, record("inv-1", "alice", "port-scan")))
	require.NoError(t, rec.Record(ctx, record("inv-2", "alice", "port-scan")))
	require.NoError(t, rec.VerifyChain(ctx))

	// Flip a field behind the recorder's back.
	recs, err := store.Query(ctx, audit.Filter{})
	require.NoError(t, err)
	tampered := *recs[0]
	tampered.CommandName = "something-else"
	evil := audit.NewMemoryStore()
	require.NoError(t, evil.Append(ctx, &tampered))
	require.NoError(t, evil.Append(ctx, recs[1]))

	badRec, err := audit.NewRecorder(ctx, evil)
	require.NoError(t, err)
	assert.ErrorIs(t, badRec.VerifyChain(ctx), audit.ErrChainBroken)
}

func TestRecordFailClosed(t *testing.T) {
	ctx := context.Background()
	store := audit.NewMemoryStore()
	rec, err := audit.NewRecorder(ctx, store)
	require.NoError(t, err)

	store.FailAppends = true
	assert.Error(t, rec.Record(ctx, record("inv-1", "alice", "port-scan")))

	// The failed append must not advance the chain head.
	store.FailAppends = false
	ok := record("inv-2", "alice", "port-scan")
	require.NoError(t, rec.Record(ctx, ok))
	assert.Equal(t, uint64(1), ok.Sequence)
	assert.Empty(t, ok.PreviousHash)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	rec, err := audit.NewRecorder(ctx, audit.NewMemoryStore())
	require.NoError(t, err)

	require.NoError(t, rec.Record(ctx, record("inv-1", "alice", "port-scan")))
	require.NoError(t, rec.Record(ctx, record("inv-2", "bob", "port-scan")))
	require.NoError(t, rec.Record(ctx, record("inv-3", "alice", "web-scan")))

	recs, err := rec.Query(ctx, audit.Filter{RequesterID: "alice"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = rec.Query(ctx, audit.Filter{RequesterID: "alice", CommandName: "web-scan"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "inv-3", recs[0].InvocationID)

	recs, err = rec.Query(ctx, audit.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := audit.OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	rec, err := audit.NewRecorder(ctx, store)
	require.NoError(t, err)

	in := record("inv-1", "alice", "port-scan")
	in.Result = &contracts.ResultSummary{Status: contracts.StatusSuccess}
	require.NoError(t, rec.Record(ctx, in))
	require.NoError(t, rec.Record(ctx, record("inv-2", "bob", "web-scan")))

	recs, err := store.Query(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "inv-1", recs[0].InvocationID)
	assert.Equal(t, []string{"operator"}, recs[0].Requester.Roles)
	assert.Equal(t, []string{"10.0.0.5"}, recs[0].Targets)
	require.NotNil(t, recs[0].Result)
	assert.Equal(t, contracts.StatusSuccess, recs[0].Result.Status)
	assert.Nil(t, recs[1].Result)

	require.NoError(t, rec.VerifyChain(ctx))

	last, err := store.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last.Sequence)
}

func TestRecorderRecoversChainHeadFromStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	store, err := audit.OpenSQLite(path)
	require.NoError(t, err)
	rec, err := audit.NewRecorder(ctx, store)
	require.NoError(t, err)
	first := record("inv-1", "alice", "port-scan")
	require.NoError(t, rec.Record(ctx, first))
	require.NoError(t, store.Close())

	reopened, err := audit.OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	rec2, err := audit.NewRecorder(ctx, reopened)
	require.NoError(t, err)

	second := record("inv-2", "alice", "port-scan")
	require.NoError(t, rec2.Record(ctx, second))
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, first.RecordHash, second.PreviousHash)
	require.NoError(t, rec2.VerifyChain(ctx))
}
