package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fakeEnv(t *testing.T, env map[string]string, exe string) {
	t.Helper()
	oldEnv, oldExe := getenv, executable
	getenv = func(k string) string { return env[k] }
	executable = func() (string, error) { return exe, nil }
	t.Cleanup(func() { getenv, executable = oldEnv, oldExe })
}

func touch(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	search := filepath.Join(root, "search")
	data := filepath.Join(root, "data")
	prefix := filepath.Join(root, "usr")

	touch(t, filepath.Join(search, "models", "a.onnx"))
	touch(t, filepath.Join(data, "backdrop", "models", "b.onnx"))
	touch(t, filepath.Join(prefix, "share", "backdrop", "backgrounds", "c.jpg"))
	touch(t, filepath.Join(root, "direct.jpg"))

	fakeEnv(t, map[string]string{
		PathEnv:         "/nonexistent:" + search,
		"XDG_DATA_HOME": data,
	}, filepath.Join(prefix, "bin", "backdrop"))

	for _, tc := range []struct {
		name, kind, want string
		ok               bool
	}{
		{"http://example.com/bg.mp4", "backgrounds", "http://example.com/bg.mp4", true},
		{"rtsp://cam/stream", "backgrounds", "rtsp://cam/stream", true},
		{filepath.Join(root, "direct.jpg"), "backgrounds", filepath.Join(root, "direct.jpg"), true},
		{"a.onnx", "models", filepath.Join(search, "models", "a.onnx"), true},
		{"b.onnx", "models", filepath.Join(data, "backdrop", "models", "b.onnx"), true},
		{"c.jpg", "backgrounds", filepath.Join(prefix, "share", "backdrop", "backgrounds", "c.jpg"), true},
		{"c.jpg", "models", "", false},
		{"sub/a.onnx", "models", "", false},
		{"", "models", "", false},
	} {
		got, ok := ResolvePath(tc.name, tc.kind)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestResolvePathHomeFallback(t *testing.T) {
	home := t.TempDir()
	touch(t, filepath.Join(home, ".local", "share", "backdrop", "models", "m.onnx"))
	fakeEnv(t, map[string]string{"HOME": home}, "/nowhere/bin/backdrop")

	got, ok := ResolvePath("m.onnx", "models")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(home, ".local", "share", "backdrop", "models", "m.onnx"), got)
}
