package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazaibn/nanobus/pkg/domain"
	"github.com/shazaibn/nanobus/pkg/engine"
)

func newTestAuditLog(t *testing.T) *AuditLog {
	t.Helper()
	log, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestAuditLog_RecordAndFetch(t *testing.T) {
	log := newTestAuditLog(t)
	ctx := context.Background()

	log.Record(ctx, engine.InvocationRecord{
		ID:        "inv-1",
		Interface: "greeter",
		Method:    "say_hello",
		Duration:  12 * time.Millisecond,
		At:        time.Now().UTC().Add(-time.Minute),
	})
	log.Record(ctx, engine.InvocationRecord{
		ID:        "inv-2",
		Interface: "orders",
		Method:    "create",
		Kind:      domain.KindPermissionDenied,
		Duration:  3 * time.Millisecond,
		At:        time.Now().UTC(),
	})

	recent, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "inv-2", recent[0].ID, "newest first")
	assert.Equal(t, "permission_denied", recent[0].FailureKind)

	got, err := log.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "greeter", got.Interface)
	assert.Equal(t, "say_hello", got.Method)
	assert.Equal(t, "", got.FailureKind)
	assert.Equal(t, int64(12), got.DurationMS)
}

func TestAuditLog_GetMissing(t *testing.T) {
	log := newTestAuditLog(t)

	_, err := log.Get(context.Background(), "absent")
	require.Error(t, err)
}

func TestAuditLog_RecentLimit(t *testing.T) {
	log := newTestAuditLog(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		log.Record(ctx, engine.InvocationRecord{
			ID:        "inv-" + string(rune('a'+i)),
			Interface: "greeter",
			Method:    "say_hello",
			At:        base.Add(time.Duration(i) * time.Second),
		})
	}

	recent, err := log.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
