package s3

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterGroup_MarkerStaysInsideGroup(t *testing.T) {
	marker := afterGroup("dir/")

	// The marker must sort after every key the group can contain, so an
	// exclusive start-after resume does not re-emit the group.
	for _, key := range []string{"dir/", "dir/a", "dir/zzz", "dir/ÿ", "dir/日本語", "dir/\U0010FFFE"} {
		assert.Less(t, key, marker, "group key %q must precede the resume marker", key)
	}

	// And before the next sibling key. "dir0" is the tightest neighbor of
	// the "dir/" group ('0' follows '/' in byte order); a resume must
	// still emit it.
	assert.Greater(t, "dir0", marker)
}

func TestAfterGroup_AdjacentGroupsDoNotOverlap(t *testing.T) {
	require.Less(t, afterGroup("a/"), "b/")
	require.Less(t, afterGroup("a/"), afterGroup("b/"))
}

func TestNew_RequiresRegion(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
