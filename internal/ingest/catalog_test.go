package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalogRecordAndList(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, c.Record(ctx, FileRecord{
		UserID: "alice", Document: "policy.txt", SizeBytes: 120, ChunkCount: 3, IngestedAt: now,
	}))
	require.NoError(t, c.Record(ctx, FileRecord{
		UserID: "alice", Document: "notes.txt", SizeBytes: 80, ChunkCount: 2, IngestedAt: now.Add(time.Minute),
	}))
	require.NoError(t, c.Record(ctx, FileRecord{
		UserID: "bob", Document: "report.txt", SizeBytes: 500, ChunkCount: 9, IngestedAt: now,
	}))

	records, err := c.ListFiles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "notes.txt", records[0].Document)
	assert.Equal(t, "policy.txt", records[1].Document)
	assert.Equal(t, 3, records[1].ChunkCount)
}

func TestCatalogReplaceRecord(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	rec := FileRecord{UserID: "alice", Document: "policy.txt", SizeBytes: 120, ChunkCount: 3, IngestedAt: time.Now().UTC()}
	require.NoError(t, c.Record(ctx, rec))

	rec.ChunkCount = 1
	rec.SizeBytes = 20
	rec.Vectorized = true
	require.NoError(t, c.Record(ctx, rec))

	records, err := c.ListFiles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].ChunkCount)
	assert.Equal(t, int64(20), records[0].SizeBytes)
	assert.True(t, records[0].Vectorized)
}

func TestCatalogDeleteFile(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, FileRecord{
		UserID: "alice", Document: "policy.txt", ChunkCount: 3, IngestedAt: time.Now().UTC(),
	}))
	require.NoError(t, c.DeleteFile(ctx, "alice", "policy.txt"))

	records, err := c.ListFiles(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, records)

	// Deleting an unknown record is a no-op.
	assert.NoError(t, c.DeleteFile(ctx, "alice", "ghost.txt"))
}

func TestCatalogUsers(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	users, err := c.Users(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, c.Record(ctx, FileRecord{UserID: "bob", Document: "a.txt", IngestedAt: time.Now().UTC()}))
	require.NoError(t, c.Record(ctx, FileRecord{UserID: "alice", Document: "b.txt", IngestedAt: time.Now().UTC()}))

	users, err = c.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	ok, err := c.HasUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasUser(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}
