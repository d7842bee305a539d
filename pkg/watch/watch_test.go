package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quiet = 30 * time.Millisecond

func startWatch(t *testing.T, path string, reload ReloadFunc) {
	t.Helper()
	f, err := New(path, quiet, reload, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
	// fsnotify registration happens inside Run.
	time.Sleep(50 * time.Millisecond)
}

func TestReloadOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.zy")
	require.NoError(t, os.WriteFile(path, []byte(`(root "inlet")`), 0o644))

	got := make(chan string, 4)
	startWatch(t, path, func(b []byte) { got <- string(b) })

	require.NoError(t, os.WriteFile(path, []byte(`(root "nozzle")`), 0o644))
	select {
	case s := <-got:
		assert.Equal(t, `(root "nozzle")`, s)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}
}

func TestBurstCollapses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.zy")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var n atomic.Int32
	last := make(chan string, 16)
	startWatch(t, path, func(b []byte) {
		n.Add(1)
		last <- string(b)
	})

	for i := range 5 {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o644))
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return n.Load() >= 1 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(4 * quiet)
	assert.Equal(t, int32(1), n.Load())
	assert.Equal(t, "e", <-last)
}

func TestIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.zy")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var n atomic.Int32
	startWatch(t, path, func([]byte) { n.Add(1) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.zy"), []byte("x"), 0o644))
	time.Sleep(5 * quiet)
	assert.Zero(t, n.Load())
}

func TestReloadAfterRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.zy")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	got := make(chan string, 4)
	startWatch(t, path, func(b []byte) { got <- string(b) })

	tmp := filepath.Join(dir, ".scene.zy.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o644))
	require.NoError(t, os.Rename(tmp, path))
	select {
	case s := <-got:
		assert.Equal(t, "new", s)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}
}
