package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objgw/objgw/pkg/engine"
)

type listEntry struct {
	name     string
	marker   string
	isPrefix bool
}

func collect(t *testing.T, e *Engine, bucket, prefix, delimiter, marker string, max int32) ([]listEntry, bool) {
	t.Helper()
	var entries []listEntry
	truncated, err := e.ListObjects(context.Background(), bucket, prefix, delimiter, marker, max,
		func(name, m string, isPrefix bool) bool {
			entries = append(entries, listEntry{name, m, isPrefix})
			return true
		})
	require.NoError(t, err)
	return entries, truncated
}

func TestBucketLifecycle(t *testing.T) {
	e := New()
	ctx := context.Background()

	ok, err := e.HeadBucket(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.CreateBucket(ctx, "b"))
	// Creating an existing bucket is idempotent.
	require.NoError(t, e.CreateBucket(ctx, "b"))

	ok, err = e.HeadBucket(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.DeleteBucket(ctx, "b"))
	assert.ErrorIs(t, e.DeleteBucket(ctx, "b"), engine.ErrNotFound)
}

func TestObjectLifecycle(t *testing.T) {
	e := New()
	ctx := context.Background()
	require.NoError(t, e.CreateBucket(ctx, "b"))

	_, err := e.HeadObject(ctx, "b", "k")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	require.NoError(t, e.PutObject(ctx, "b", "k", strings.NewReader("payload"), 7))

	info, err := e.HeadObject(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size)
	assert.False(t, info.Mtime.IsZero())

	rc, err := e.GetObject(ctx, "b", "k")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	require.NoError(t, e.DeleteObject(ctx, "b", "k"))
	_, err = e.GetObject(ctx, "b", "k")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	// Operations against a missing bucket fail uniformly.
	require.ErrorIs(t, e.PutObject(ctx, "nope", "k", strings.NewReader(""), 0), engine.ErrNotFound)
	_, err = e.HeadObject(ctx, "nope", "k")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestListBuckets(t *testing.T) {
	e := New()
	ctx := context.Background()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, e.CreateBucket(ctx, name))
	}

	var names []string
	truncated, err := e.ListBuckets(ctx, "", func(name, _ string, _ bool) bool {
		names = append(names, name)
		return true
	})
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)

	// The marker resumes strictly after the named bucket.
	names = names[:0]
	_, err = e.ListBuckets(ctx, "alpha", func(name, _ string, _ bool) bool {
		names = append(names, name)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "charlie"}, names)
}

func TestListObjects_DelimiterGrouping(t *testing.T) {
	e := New()
	ctx := context.Background()
	require.NoError(t, e.CreateBucket(ctx, "b"))
	for _, k := range []string{"a.txt", "dir/x", "dir/y", "z.txt"} {
		require.NoError(t, e.PutObject(ctx, "b", k, strings.NewReader("1"), 1))
	}

	entries, truncated := collect(t, e, "b", "", "/", "", 100)
	assert.False(t, truncated)
	require.Len(t, entries, 3)

	assert.Equal(t, listEntry{"a.txt", "a.txt", false}, entries[0])
	// The grouped prefix keeps its trailing delimiter and its marker
	// resumes past the whole group.
	assert.Equal(t, listEntry{"dir/", "dir/y", true}, entries[1])
	assert.Equal(t, listEntry{"z.txt", "z.txt", false}, entries[2])
}

func TestListObjects_PrefixAndMarker(t *testing.T) {
	e := New()
	ctx := context.Background()
	require.NoError(t, e.CreateBucket(ctx, "b"))
	for _, k := range []string{"dir/a", "dir/b", "dir/c", "other"} {
		require.NoError(t, e.PutObject(ctx, "b", k, strings.NewReader("1"), 1))
	}

	entries, _ := collect(t, e, "b", "dir/", "/", "", 100)
	require.Len(t, entries, 3)

	// Resume strictly after dir/a.
	entries, _ = collect(t, e, "b", "dir/", "/", "dir/a", 100)
	require.Len(t, entries, 2)
	assert.Equal(t, "dir/b", entries[0].name)
	assert.Equal(t, "dir/c", entries[1].name)
}

func TestListObjects_Truncation(t *testing.T) {
	e := New()
	ctx := context.Background()
	require.NoError(t, e.CreateBucket(ctx, "b"))
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, e.PutObject(ctx, "b", k, strings.NewReader("1"), 1))
	}

	entries, truncated := collect(t, e, "b", "", "/", "", 2)
	assert.True(t, truncated)
	require.Len(t, entries, 2)

	// Continue from the last delivered marker.
	entries, truncated = collect(t, e, "b", "", "/", entries[1].marker, 2)
	assert.False(t, truncated)
	require.Len(t, entries, 1)
	assert.Equal(t, "c", entries[0].name)
}

func TestListObjects_MissingBucket(t *testing.T) {
	e := New()
	_, err := e.ListObjects(context.Background(), "nope", "", "/", "", 10,
		func(string, string, bool) bool { return true })
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
