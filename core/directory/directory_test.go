package directory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_SetGetDelete(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("alice")
	require.False(t, ok)

	s.Set("alice", "10.0.0.1:9000")
	v, ok := s.Get("alice")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:9000", v)

	s.Set("alice", "10.0.0.2:9000")
	v, _ = s.Get("alice")
	require.Equal(t, "10.0.0.2:9000", v)
	require.Equal(t, 1, s.Len())

	s.Delete("alice")
	s.Delete("alice")
	require.Equal(t, 0, s.Len())
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.Set("alice", "a")
	snap := s.Snapshot()
	s.Set("bob", "b")

	require.Equal(t, map[string]Record{"alice": {Value: "a"}}, snap)
	require.Len(t, s.Snapshot(), 2)
}

func TestUndoLog_PopRemovesEntry(t *testing.T) {
	u := NewUndoLog()
	u.Record(7, UndoEntry{Key: "k", New: "v"})
	u.Record(3, UndoEntry{Key: "k", New: "w"})
	require.Equal(t, []uint64{3, 7}, u.Pending())

	e, ok := u.Pop(7)
	require.True(t, ok)
	require.Equal(t, "v", e.New)

	_, ok = u.Pop(7)
	require.False(t, ok)
	require.Equal(t, 1, u.Len())
}

func TestRevert(t *testing.T) {
	t.Run("restores old value", func(t *testing.T) {
		s := NewStore()
		s.Set("k", "new")
		require.True(t, Revert(s, UndoEntry{Key: "k", Old: "old", HadOld: true, New: "new"}))
		v, _ := s.Get("k")
		require.Equal(t, "old", v)
	})

	t.Run("removes key that had no value", func(t *testing.T) {
		s := NewStore()
		s.Set("k", "new")
		require.True(t, Revert(s, UndoEntry{Key: "k", New: "new"}))
		_, ok := s.Get("k")
		require.False(t, ok)
	})

	t.Run("skips when overwritten", func(t *testing.T) {
		s := NewStore()
		s.Set("k", "newer")
		require.False(t, Revert(s, UndoEntry{Key: "k", Old: "old", HadOld: true, New: "new"}))
		v, _ := s.Get("k")
		require.Equal(t, "newer", v)
	})

	t.Run("skips when key is gone", func(t *testing.T) {
		s := NewStore()
		require.False(t, Revert(s, UndoEntry{Key: "k", New: "new"}))
		require.Equal(t, 0, s.Len())
	})
}
