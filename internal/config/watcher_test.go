package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherAppliesReloadedConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "poll:\n  interval: 10s\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	s := NewSettingsFrom(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewWatcher(path, s, nil).Run(ctx) }()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: 2s\n"), 0644))

	// A truncate may be observed before the final write, so wait for the
	// settled value rather than the first notification.
	require.Eventually(t, func() bool {
		d, _ := Get(s, KeyPollInterval)
		return d == 2*time.Second
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "poll:\n  interval: 10s\n")
	s := NewSettingsFrom(defaultConfig())
	Set(s, KeyPollInterval, 10*time.Second)

	w := NewWatcher(path, s, nil)
	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: 0s\n"), 0644))
	w.reload()

	d, _ := Get(s, KeyPollInterval)
	assert.Equal(t, 10*time.Second, d)

	require.NoError(t, os.WriteFile(path, []byte("poll: [broken"), 0644))
	w.reload()
	d, _ = Get(s, KeyPollInterval)
	assert.Equal(t, 10*time.Second, d)
}

func TestWatcherKeepsSettingsWhenFileIsTruncated(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
search:
  query: private-q
privacy:
  public_only: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	s := NewSettingsFrom(cfg)
	w := NewWatcher(path, s, nil)

	require.NoError(t, os.WriteFile(path, nil, 0644))
	w.reload()

	privacy, _ := Get(s, KeyPrivacy)
	assert.True(t, privacy.PublicOnly)
	query, _ := Get(s, KeySearchQuery)
	assert.Equal(t, "private-q", query)

	require.NoError(t, os.Remove(path))
	w.reload()

	privacy, _ = Get(s, KeyPrivacy)
	assert.True(t, privacy.PublicOnly)
	query, _ = Get(s, KeySearchQuery)
	assert.Equal(t, "private-q", query)
}
