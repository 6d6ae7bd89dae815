package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providerDocV1 = `
interfaces:
  greeter:
    say_hello:
      steps:
        - name: say_hello
          uses: expr
          with:
            value: hello
`

const providerDocV2 = `
interfaces:
  greeter:
    say_hello:
      steps:
        - name: say_hello
          uses: expr
          with:
            value: goodbye
`

func writeBusFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFileProvider_InitialSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	writeBusFile(t, path, providerDocV1)

	provider, err := NewFileProvider(path, slog.Default())
	require.NoError(t, err)
	defer provider.Close()

	snapshots := provider.Subscribe()
	select {
	case snapshot := <-snapshots:
		require.NotNil(t, snapshot)
		assert.Equal(t, int64(1), snapshot.Generation)
		assert.Contains(t, snapshot.Document.Interfaces, "greeter")
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot delivered")
	}
}

func TestFileProvider_FailsFastOnBrokenDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	writeBusFile(t, path, "interfaces: [")

	_, err := NewFileProvider(path, slog.Default())
	require.Error(t, err)
}

func TestFileProvider_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	writeBusFile(t, path, providerDocV1)

	provider, err := NewFileProvider(path, slog.Default())
	require.NoError(t, err)
	defer provider.Close()

	snapshots := provider.Subscribe()
	first := <-snapshots

	writeBusFile(t, path, providerDocV2)

	select {
	case snapshot := <-snapshots:
		require.NotNil(t, snapshot)
		assert.Greater(t, snapshot.Generation, first.Generation)
		step := snapshot.Document.Interfaces["greeter"]["say_hello"].Steps[0]
		assert.Equal(t, "goodbye", step.With["value"])
	case <-time.After(2 * time.Second):
		t.Fatal("no reload snapshot delivered")
	}
}

func TestFileProvider_SlowSubscriberGetsNewestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	writeBusFile(t, path, providerDocV1)

	provider, err := NewFileProvider(path, slog.Default())
	require.NoError(t, err)
	defer provider.Close()

	// Never drain the buffered initial snapshot; every publication finds
	// the channel full.
	snapshots := provider.Subscribe()

	writeBusFile(t, path, providerDocV2)
	provider.reload()
	writeBusFile(t, path, providerDocV1)
	provider.reload()

	latest := provider.Current()
	require.NotNil(t, latest)

	select {
	case snapshot := <-snapshots:
		// The watcher may publish once more after Current() was read, so
		// "at least as new" is the stable form of "newest wins".
		assert.GreaterOrEqual(t, snapshot.Generation, latest.Generation,
			"a full subscriber buffer must be displaced by the newest snapshot")
		assert.Greater(t, snapshot.Generation, int64(1),
			"the initial snapshot must have been displaced")
	default:
		t.Fatal("no snapshot buffered for subscriber")
	}
}

func TestFileProvider_KeepsLastGoodOnBrokenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	writeBusFile(t, path, providerDocV1)

	provider, err := NewFileProvider(path, slog.Default())
	require.NoError(t, err)
	defer provider.Close()

	good := provider.Current()
	require.NotNil(t, good)

	writeBusFile(t, path, "interfaces: [")

	// Give the watcher time to observe and reject the broken write.
	time.Sleep(500 * time.Millisecond)

	current := provider.Current()
	assert.Equal(t, good.Generation, current.Generation)
}
