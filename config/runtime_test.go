package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backdrop/video"
)

func TestLiveToggles(t *testing.T) {
	c := validConfig()
	c.FlipHorizontal = true
	defaults := c.DefaultToggles()
	assert.Equal(t, video.Toggles{
		Filter: true, FlipHorizontal: true, ShowMask: true, ShowBackground: true, ShowFPS: true,
	}, defaults)

	path := filepath.Join(t.TempDir(), "runtime.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"filter": false}`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live := NewLive(defaults)
	assert.Equal(t, defaults, live.Get())
	require.NoError(t, live.Watch(ctx, path))

	want := defaults
	want.Filter = false
	assert.Equal(t, want, live.Get())

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"flip_vertical": true, "show_fps": false}`), 0o644))

	want = defaults
	want.FlipVertical = true
	want.ShowFPS = false
	assert.Eventually(t, func() bool { return live.Get() == want }, 5*time.Second, 10*time.Millisecond)

	// Broken files keep the previous toggles.
	loads := live.Loads()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	time.Sleep(3 * Debounce)
	assert.Equal(t, want, live.Get())
	assert.Equal(t, loads, live.Loads())
}

func TestLiveMissingFile(t *testing.T) {
	live := NewLive(video.Toggles{Filter: true})
	err := live.Watch(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
	assert.True(t, live.Get().Filter)
}
