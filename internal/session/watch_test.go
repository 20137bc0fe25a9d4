package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherSignalsSessionWrites(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "sessions"), nil)
	w, err := Watch(store, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, store.Write(sampleSession("watched", time.Now(), StatusActive)))
	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification")
	}

	require.NoError(t, store.SetActive("watched"))
	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a pointer change notification")
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatcherCloseClosesChanges(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "sessions"), nil)
	w, err := Watch(store, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Changes():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
