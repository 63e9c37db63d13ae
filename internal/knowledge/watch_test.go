package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcher_InvalidatesOnWrite(t *testing.T) {
	root := t.TempDir()
	writeDomain(t, root, "golang", map[string]string{"a.md": "v1\n"})

	p, err := NewDirProvider(root, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(p, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	snap, err := p.Snapshot(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, "v1\n", snap.Sources[0].Content)

	require.NoError(t, os.WriteFile(filepath.Join(root, "golang", "a.md"), []byte("v2\n"), 0o600))

	// The invalidation is asynchronous; poll until the fresh snapshot
	// shows up.
	assert.Eventually(t, func() bool {
		snap, err := p.Snapshot(ctx, "golang")
		return err == nil && len(snap.Sources) == 1 && snap.Sources[0].Content == "v2\n"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	p, err := NewDirProvider(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	w, err := NewWatcher(p, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
