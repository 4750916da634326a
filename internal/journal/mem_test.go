package journal

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonic-net/fgnhgorch/internal/types"
)

func TestMemJournalWriteAndRecover(t *testing.T) {
	j := NewMemJournal()
	nh1 := types.NextHopKey{IP: netip.MustParseAddr("10.0.0.1")}
	nh2 := types.NextHopKey{IP: netip.MustParseAddr("10.0.0.2")}

	require.NoError(t, j.WriteBucket("10.0.0.0/24", 0, nh1))
	require.NoError(t, j.WriteBucket("10.0.0.0/24", 1, nh2))

	recovered, err := j.Recover()
	require.NoError(t, err)

	rec, ok := recovered["10.0.0.0/24"]
	require.True(t, ok, "expected a record for the prefix")
	require.Equal(t, nh1, rec[0])
	require.Equal(t, nh2, rec[1])
}

func TestMemJournalDeleteRoute(t *testing.T) {
	j := NewMemJournal()
	nh1 := types.NextHopKey{IP: netip.MustParseAddr("10.0.0.1")}
	require.NoError(t, j.WriteBucket("10.0.0.0/24", 0, nh1))
	require.NoError(t, j.DeleteRoute("10.0.0.0/24"))

	recovered, err := j.Recover()
	require.NoError(t, err)

	_, ok := recovered["10.0.0.0/24"]
	require.False(t, ok, "expected record to be purged")
}
